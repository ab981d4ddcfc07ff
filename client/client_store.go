package client

import "context"

// ClientStore persists client registrations. The admin surface that manages
// them is external; the core only reads and validates.
type ClientStore interface {
	CreateClient(ctx context.Context, client *Client) error
	GetClient(ctx context.Context, clientID string) (*Client, error)
	UpdateClient(ctx context.Context, client *Client) error
	DeleteClient(ctx context.Context, clientID string) error
	ListClients(ctx context.Context, filter ClientFilter) ([]*Client, error)
	ValidateClient(ctx context.Context, clientID, clientSecret string) (*Client, error)
}
