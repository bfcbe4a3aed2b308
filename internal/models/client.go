package models

import (
	"slices"
	"time"
)

// RegionAccess limits a client's usage of one region.
type RegionAccess struct {
	Limit int `json:"limit"`
}

// ClientAccess is what a client is entitled to use.
type ClientAccess struct {
	Games   []string                `json:"games"`
	Limit   int                     `json:"limit"`
	Regions map[string]RegionAccess `json:"regions"`
}

// Client is an upstream integration (e.g. a Discord bot) calling the API
type Client struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	SecretHash string       `json:"-"`
	Access     ClientAccess `json:"access"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (c *Client) HasGameAccess(game string) bool {
	return slices.Contains(c.Access.Games, game)
}

func (c *Client) HasRegionAccess(region string) bool {
	_, ok := c.Access.Regions[region]
	return ok
}

// RegionLimit returns the per-region active match limit; 0 means unlimited.
func (c *Client) RegionLimit(region string) int {
	return c.Access.Regions[region].Limit
}

func (c *Client) Limit() int {
	return c.Access.Limit
}
