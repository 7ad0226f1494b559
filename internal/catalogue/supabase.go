package catalogue

import (
	"context"
	"fmt"

	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseCatalogue reads the point inventory from the `points` table.
type SupabaseCatalogue struct {
	client *supabase.Client
}

// NewSupabase builds a catalogue backed by a Supabase project.
func NewSupabase(url, serviceKey string) (*SupabaseCatalogue, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseCatalogue{client: client}, nil
}

// Points implements Catalogue.
func (c *SupabaseCatalogue) Points(_ context.Context, airport string) ([]Point, error) {
	var rows []Point
	_, err := c.client.From("points").
		Select("id,type", "", false).
		Eq("airport", airport).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("load points for %s: %w", airport, err)
	}
	return rows, nil
}
