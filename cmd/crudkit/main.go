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

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/tomoncle/crudkit/database"
	"github.com/tomoncle/crudkit/utils"
)

const (
	flagConfig   = "config"
	flagDir      = "dir"
	flagLogLevel = "log-level"
	flagDebug    = "debug"
)

var log = utils.NewLogger("CRUDKIT")

func main() {
	if err := newApp().Run(os.Args); err != nil {
		os.Exit(1)
	}
}

func newApp() *cli.App {
	app := &cli.App{
		Name:  "crudkit",
		Usage: "manage crudkit database migrations",
		Before: func(ctx *cli.Context) error {
			utils.ConfigureLogLevel(ctx.String(flagLogLevel))
			return nil
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				EnvVars: []string{"CRUDKIT_CONFIG"},
				Usage:   "configuration file to use",
			},
			&cli.StringFlag{
				Name:    flagDir,
				Aliases: []string{"d"},
				EnvVars: []string{"CRUDKIT_MIGRATIONS_DIR"},
				Usage:   "directory holding NNN_name.sql migrations, overrides the configuration",
			},
			&cli.StringFlag{
				Name:    flagLogLevel,
				EnvVars: []string{"CRUDKIT_LOG_LEVEL"},
				Value:   "info",
				Usage:   "set logging level",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				EnvVars: []string{"CRUDKIT_CLI_DEBUG"},
				Usage:   "print error stacks",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply or inspect schema migrations",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "apply pending migrations",
						Action: migrateUp,
					},
					{
						Name:   "status",
						Usage:  "list migrations and whether they are applied",
						Action: migrateStatus,
					},
					{
						Name:      "create",
						Usage:     "create an empty migration file with the next version",
						ArgsUsage: "<name>",
						Action:    migrateCreate,
					},
				},
			},
			{
				Name:   "ping",
				Usage:  "check the database connection",
				Action: ping,
			},
		},
	}

	app.ExitErrHandler = func(ctx *cli.Context, err error) {
		if err == nil {
			return
		}
		if ctx.Bool(flagDebug) {
			log.Errorf("%+v", err)
			return
		}
		log.Error(err.Error())
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	return app
}

func loadConfig(ctx *cli.Context) (*database.Config, error) {
	cfg := database.DefaultConfig()
	if path := ctx.String(flagConfig); path != "" {
		loaded, err := database.LoadConfig(path)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		cfg = loaded
	}
	if dir := ctx.String(flagDir); dir != "" {
		cfg.DataMigrateConfig.Dir = dir
	}
	return cfg, nil
}

func open(ctx *cli.Context) (*database.Config, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := database.InitDatabaseWithOptions(cfg, false); err != nil {
		return nil, errors.WithStack(err)
	}
	return cfg, nil
}

func migrateUp(ctx *cli.Context) error {
	if _, err := open(ctx); err != nil {
		return err
	}
	defer func() { _ = database.CloseDB() }()

	if err := database.RunMigrations(ctx.Context); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

func migrateStatus(ctx *cli.Context) error {
	if _, err := open(ctx); err != nil {
		return err
	}
	defer func() { _ = database.CloseDB() }()

	statuses, err := database.MigrationStatuses(ctx.Context)
	if err != nil {
		return errors.WithStack(err)
	}

	w := tabwriter.NewWriter(ctx.App.Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, s := range statuses {
		applied := "no"
		if s.Applied {
			applied = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", s.Migration.Version, s.Migration.Name, applied)
	}
	return w.Flush()
}

var migrationNameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

func migrateCreate(ctx *cli.Context) error {
	name := ctx.Args().First()
	if !migrationNameRe.MatchString(name) {
		return errors.Errorf("migration name %q must be snake_case", name)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	dir := cfg.DataMigrateConfig.Dir
	if dir == "" {
		return errors.New("no migration directory: use --dir or data_migrate_config.dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WithStack(err)
	}

	existing, err := database.LoadMigrations(os.DirFS(dir), ".")
	if err != nil {
		return errors.WithStack(err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%03d_%s.sql", nextVersion(existing), name))
	if err := os.WriteFile(path, []byte("-- "+name+"\n"), 0o644); err != nil {
		return errors.WithStack(err)
	}

	log.Infof("Created migration %s", path)
	return nil
}

// nextVersion returns one past the highest numeric version.
func nextVersion(migrations []database.Migration) int {
	highest := 0
	for _, m := range migrations {
		if n, err := strconv.Atoi(m.Version); err == nil && n > highest {
			highest = n
		}
	}
	return highest + 1
}

func ping(ctx *cli.Context) error {
	if _, err := open(ctx); err != nil {
		return err
	}
	defer func() { _ = database.CloseDB() }()

	status := database.GetHealthStatus(ctx.Context)
	if !status.Healthy {
		return errors.Errorf("database unhealthy: %s", status.LastError)
	}
	_, _ = fmt.Fprintf(ctx.App.Writer, "ok (%s)\n", status.ResponseTime)
	return nil
}
