package directory

import (
	"context"
	"fmt"

	supabase "github.com/supabase-community/supabase-go"
)

// SupabaseDirectory resolves accounts from the `users` table.
type SupabaseDirectory struct {
	client *supabase.Client
}

// NewSupabase builds a directory backed by a Supabase project.
func NewSupabase(url, serviceKey string) (*SupabaseDirectory, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseDirectory{client: client}, nil
}

type userRow struct {
	VatsimID string `json:"vatsim_id"`
	Banned   bool   `json:"banned"`
}

// ResolveKey implements Directory.
func (d *SupabaseDirectory) ResolveKey(_ context.Context, apiKey string) (string, error) {
	var rows []userRow
	_, err := d.client.From("users").
		Select("vatsim_id,banned", "", false).
		Eq("api_key", apiKey).
		ExecuteTo(&rows)
	if err != nil {
		return "", fmt.Errorf("resolve api key: %w", err)
	}
	if len(rows) == 0 {
		return "", ErrUnknownKey
	}
	return rows[0].VatsimID, nil
}

// IsBanned implements Directory.
func (d *SupabaseDirectory) IsBanned(_ context.Context, userID string) (bool, error) {
	var rows []userRow
	_, err := d.client.From("users").
		Select("vatsim_id,banned", "", false).
		Eq("vatsim_id", userID).
		ExecuteTo(&rows)
	if err != nil {
		return false, fmt.Errorf("ban lookup: %w", err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	return rows[0].Banned, nil
}
