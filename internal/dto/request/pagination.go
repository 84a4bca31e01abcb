package request

import (
	"net/url"

	"trip-installments/pkg/utils"
)

const maxPerPage = 100

type PaginatedRequest struct {
	Page    int `json:"page" validate:"min=1"`
	PerPage int `json:"per_page" validate:"min=1,max=100"`
}

// PageFromQuery reads ?page= and ?per_page=, falling back to page 1 and defaultPerPage.
func PageFromQuery(query url.Values, defaultPerPage int) PaginatedRequest {
	return PaginatedRequest{
		Page:    utils.ParseInt(query.Get("page"), 1),
		PerPage: utils.ParseInt(query.Get("per_page"), defaultPerPage),
	}
}

func (p PaginatedRequest) Offset() int {
	if p.Page < 1 {
		return 0
	}
	return (p.Page - 1) * p.Limit()
}

func (p PaginatedRequest) Limit() int {
	if p.PerPage < 1 {
		return 10
	}
	return min(p.PerPage, maxPerPage)
}
