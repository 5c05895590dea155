package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Directory expands roles and teams into recipient ids and knows how to
// reach each recipient.
type Directory interface {
	RoleMembers(ctx context.Context, role string) ([]string, error)
	TeamMembers(ctx context.Context, team string) ([]string, error)
	// Address returns the contact address of recipient on channel.
	Address(ctx context.Context, recipient string, channel models.Channel) (string, bool)
}

// Contact holds the per-channel addresses of one recipient.
type Contact struct {
	Email     string `yaml:"email"`
	Phone     string `yaml:"phone"`
	PushToken string `yaml:"push_token"`
}

// StaticDirectory is a Directory loaded from configuration.
type StaticDirectory struct {
	Roles    map[string][]string `yaml:"roles"`
	Teams    map[string][]string `yaml:"teams"`
	Contacts map[string]Contact  `yaml:"contacts"`
}

// RoleMembers returns the members of role. Unknown roles are empty.
func (s *StaticDirectory) RoleMembers(_ context.Context, role string) ([]string, error) {
	return s.Roles[role], nil
}

// TeamMembers returns the members of team. Unknown teams are empty.
func (s *StaticDirectory) TeamMembers(_ context.Context, team string) ([]string, error) {
	return s.Teams[team], nil
}

// Address returns the configured contact address for channel.
func (s *StaticDirectory) Address(_ context.Context, recipient string, channel models.Channel) (string, bool) {
	c, ok := s.Contacts[recipient]
	if !ok {
		return "", false
	}
	var addr string
	switch channel {
	case models.ChannelDirectMessage:
		addr = c.Email
	case models.ChannelTextMessage:
		addr = c.Phone
	case models.ChannelMobilePush:
		addr = c.PushToken
	}
	return addr, addr != ""
}

// ResolveRecipients returns direct users, then role and team members, with
// duplicates removed and first-seen order kept.
func ResolveRecipients(ctx context.Context, dir Directory, spec models.RecipientSpec) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(ids []string) {
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}

	add(spec.Users)
	if dir == nil {
		return out, nil
	}
	for _, role := range spec.Roles {
		members, err := dir.RoleMembers(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("expand role %s: %w", role, err)
		}
		add(members)
	}
	for _, team := range spec.Teams {
		members, err := dir.TeamMembers(ctx, team)
		if err != nil {
			return nil, fmt.Errorf("expand team %s: %w", team, err)
		}
		add(members)
	}
	return out, nil
}
