/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package crudkit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/crudkit/database"
	"github.com/tomoncle/crudkit/errs"
	"github.com/tomoncle/crudkit/types"
)

type SystemConfig struct {
	ID          int64
	ConfigKey   string
	ConfigValue string
	Description *string
	ConfigType  string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func mapSystemConfig(row types.Row) (*SystemConfig, error) {
	return &SystemConfig{
		ID:          row.Int("id"),
		ConfigKey:   row.String("config_key"),
		ConfigValue: row.String("config_value"),
		Description: row.NullableString("description"),
		ConfigType:  row.String("config_type"),
		Active:      row.Bool("active"),
		CreatedAt:   row.Time("created_at"),
		UpdatedAt:   row.Time("updated_at"),
	}, nil
}

type CreateSystemConfig struct {
	ConfigKey   string `validate:"required"`
	ConfigValue string
	ConfigType  string `validate:"omitempty,oneof=string int bool"`
}

func (c CreateSystemConfig) Fields() types.Fields {
	f := types.NewFields("config_key", c.ConfigKey, "config_value", c.ConfigValue)
	if c.ConfigType != "" {
		f = f.Set("config_type", c.ConfigType)
	}
	return f
}

type UpdateSystemConfig struct {
	ConfigValue *string
	Description *string
}

func (u UpdateSystemConfig) Fields() types.Fields {
	return types.NewFields("config_value", u.ConfigValue, "description", u.Description)
}

const systemConfigDDL = `-- system settings
CREATE TABLE system_config (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    config_key TEXT NOT NULL UNIQUE,
    config_value TEXT,
    description TEXT,
    config_type TEXT NOT NULL DEFAULT 'string',
    active BOOLEAN NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

func openTestDB(t *testing.T) {
	t.Helper()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_system_config.sql"), []byte(systemConfigDDL), 0o644))

	cfg := database.DefaultConfig()
	cfg.ConnectionConfig.Type = "sqlite"
	cfg.ConnectionConfig.DBName = "file:crudkit_service?mode=memory&cache=shared"
	cfg.ConnectionConfig.HealthCheckInterval = 0
	cfg.ConnectionConfig.SlowQueryTime = 0
	cfg.DataMigrateConfig.EnableMigrateOnStartup = true
	cfg.DataMigrateConfig.Dir = dir
	cfg.MetricsConfig.Enabled = true

	require.NoError(t, Open(cfg, prometheus.NewRegistry()))
	t.Cleanup(func() { _ = Close() })
}

func TestServiceBeforeOpen(t *testing.T) {
	require.NoError(t, Close())
	svc := NewService[SystemConfig, CreateSystemConfig, UpdateSystemConfig]("system_config", mapSystemConfig)

	_, err := svc.Get(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, errs.CodeConnectionFailed, errs.CodeOf(err))

	err = WithTx(context.Background(), func(database.Tx) error { return nil })
	assert.Equal(t, errs.CodeConnectionFailed, errs.CodeOf(err))
}

func TestOpenRejectsNilConfig(t *testing.T) {
	assert.Error(t, Open(nil, nil))
}

func TestService(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()
	svc := NewService[SystemConfig, CreateSystemConfig, UpdateSystemConfig]("system_config", mapSystemConfig)

	created, err := svc.Save(ctx, CreateSystemConfig{ConfigKey: "site.name", ConfigValue: "crudkit"})
	require.NoError(t, err)
	assert.Equal(t, "string", created.ConfigType)
	assert.Nil(t, created.Description)

	_, err = svc.Save(ctx, CreateSystemConfig{ConfigKey: "site.name", ConfigValue: "again"})
	assert.True(t, errs.IsConflict(err))

	_, err = svc.SaveAll(ctx, []CreateSystemConfig{
		{ConfigKey: "max.users", ConfigValue: "100", ConfigType: "int"},
		{ConfigKey: "signup.open", ConfigValue: "true", ConfigType: "bool"},
	})
	require.NoError(t, err)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	ints, err := svc.List(ctx, types.NewFields("config_type", "int"))
	require.NoError(t, err)
	require.Len(t, ints, 1)
	assert.Equal(t, "max.users", ints[0].ConfigKey)

	desc := "public name"
	updated, err := svc.Update(ctx, created.ID, UpdateSystemConfig{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "crudkit", updated.ConfigValue)
	assert.Equal(t, "public name", *updated.Description)

	found, err := svc.Find(ctx, svc.Select().
		Where("config_type <> ?", "string").
		OrderBy("config_key", types.Desc))
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "signup.open", found[0].ConfigKey)

	_, err = svc.Find(ctx, svc.Select().Where("config_type <> 'string'", "string"))
	require.Error(t, err)
	assert.Equal(t, errs.CodeFetchFailed, errs.CodeOf(err))
	assert.True(t, errs.IsValidation(err))

	raw, err := svc.Query(ctx, "SELECT * FROM system_config WHERE config_key = $1", "site.name")
	require.NoError(t, err)
	require.Len(t, raw, 1)

	page, err := svc.Page(ctx, types.NewPageRequest(1, 2, types.Fields{}, types.Order{Field: "id", Direction: types.Asc}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
	assert.True(t, page.HasNext)

	ok, err := svc.SoftDelete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	active, err := svc.Count(ctx, types.NewFields("active", true))
	require.NoError(t, err)
	assert.Equal(t, int64(2), active)

	ok, err = svc.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	exists, err := svc.Exists(ctx, types.NewFields("config_key", "site.name"))
	require.NoError(t, err)
	assert.False(t, exists)

	m := Metrics()
	require.NotNil(t, m)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("system_config", "create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Operations.WithLabelValues("system_config", "create", "conflict")))
	assert.Greater(t, testutil.ToFloat64(m.Queries.WithLabelValues("select", "ok")), 0.0)
}

func TestWithTx(t *testing.T) {
	openTestDB(t)
	ctx := context.Background()
	svc := NewService[SystemConfig, CreateSystemConfig, UpdateSystemConfig]("system_config", mapSystemConfig)
	boom := errors.New("abort")

	err := WithTx(ctx, func(tx database.Tx) error {
		if _, err := svc.SaveWithTx(ctx, tx, CreateSystemConfig{ConfigKey: "tx.discarded"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var id int64
	err = WithTx(ctx, func(tx database.Tx) error {
		created, err := svc.SaveWithTx(ctx, tx, CreateSystemConfig{ConfigKey: "tx.kept"})
		if err != nil {
			return err
		}
		id = created.ID
		value := "v2"
		_, err = svc.UpdateWithTx(ctx, tx, id, UpdateSystemConfig{ConfigValue: &value})
		return err
	})
	require.NoError(t, err)

	all, err := svc.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "tx.kept", all[0].ConfigKey)
	assert.Equal(t, "v2", all[0].ConfigValue)

	require.NoError(t, WithTx(ctx, func(tx database.Tx) error {
		ok, err := svc.DeleteWithTx(ctx, tx, id)
		assert.True(t, ok)
		return err
	}))
	n, err := svc.Count(ctx, types.Fields{})
	require.NoError(t, err)
	assert.Zero(t, n)
}
