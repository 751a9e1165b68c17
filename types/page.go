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

package types

// Order is a single ORDER BY term.
type Order struct {
	Field     string
	Direction Direction
}

// PageRequest describes pagination, optional equality filter, and ordering.
type PageRequest struct {
	page       int
	pageSize   int
	conditions Fields
	orders     []Order
}

func (p *PageRequest) GetPageSize() int {
	if p.pageSize < 1 {
		p.pageSize = 20
	}
	return p.pageSize
}

func (p *PageRequest) GetPage() int {
	if p.page < 1 {
		p.page = 1
	}
	return p.page
}

func (p *PageRequest) GetOffset() int {
	return (p.GetPage() - 1) * p.GetPageSize()
}

func (p *PageRequest) GetConditions() Fields {
	return p.conditions
}

func (p *PageRequest) GetOrders() []Order {
	return p.orders
}

// NewPageRequest constructs a PageRequest with conditions and order settings.
func NewPageRequest(page int, pageSize int, conditions Fields, orders ...Order) *PageRequest {
	return &PageRequest{page: page, pageSize: pageSize, conditions: conditions, orders: orders}
}

// NewDefaultPageRequest constructs a PageRequest with no filter or ordering.
func NewDefaultPageRequest(page int, pageSize int) *PageRequest {
	return NewPageRequest(page, pageSize, Fields{})
}

// Pagination holds paged result items along with pagination metadata.
type Pagination[T any] struct {
	Page       int
	PageSize   int
	Total      int64
	TotalPages int
	HasNext    bool
	HasPrev    bool
	Items      []*T
}

// NewDefaultPagination constructs an empty pagination container.
func NewDefaultPagination[T any](page int, pageSize int) *Pagination[T] {
	p := &Pagination[T]{Page: page, PageSize: pageSize, Items: make([]*T, 0)}
	p.SetTotal(0)
	return p
}

// SetTotal records the total row count and derives the page metadata.
func (p *Pagination[T]) SetTotal(total int64) {
	p.Total = total
	p.TotalPages = 0
	if p.PageSize > 0 {
		p.TotalPages = int((total + int64(p.PageSize) - 1) / int64(p.PageSize))
	}
	p.HasNext = p.Page < p.TotalPages
	p.HasPrev = p.Page > 1
}
