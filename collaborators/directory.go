// Package collaborators provides file backed stand-ins for the services the
// engine consumes but does not own: user profiles, the follow graph and
// country detection.
package collaborators

import (
	"chat-engine/domain"
	"chat-engine/errors"
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type userEntry struct {
	ID        string `yaml:"id" validate:"required"`
	Name      string `yaml:"name" validate:"required"`
	AvatarURL string `yaml:"avatar_url" validate:"omitempty,url"`
	Role      string `yaml:"role" validate:"omitempty,oneof=USER EXPERT"`
}

type directoryFile struct {
	Users   []userEntry         `yaml:"users" validate:"dive"`
	Follows map[string][]string `yaml:"follows"`
}

// StaticDirectory is an immutable user directory and follow graph loaded
// once from YAML. It is safe for concurrent use.
type StaticDirectory struct {
	users     map[string]domain.User
	following map[string][]string
	followers map[string][]string
}

// LoadDirectory reads a YAML file of the form
//
//	users:
//	  - id: alice
//	    name: Alice
//	    role: USER
//	follows:
//	  alice: [bob]
func LoadDirectory(path string, log *slog.Logger) (*StaticDirectory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", path, err)
	}
	directory, err := ParseDirectory(raw)
	if err != nil {
		return nil, fmt.Errorf("parse directory %s: %w", path, err)
	}
	log.Info("User directory loaded", "path", path, "users", len(directory.users))
	return directory, nil
}

// ParseDirectory fails when a follow edge references an unknown user.
func ParseDirectory(raw []byte) (*StaticDirectory, error) {
	var file directoryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, err
	}
	if err := validate.Struct(file); err != nil {
		return nil, err
	}

	directory := &StaticDirectory{
		users:     make(map[string]domain.User, len(file.Users)),
		following: make(map[string][]string),
		followers: make(map[string][]string),
	}
	for _, entry := range file.Users {
		role := domain.Role(entry.Role)
		if role == "" {
			role = domain.RoleUser
		}
		directory.users[entry.ID] = domain.User{
			ID:        entry.ID,
			Name:      entry.Name,
			AvatarURL: entry.AvatarURL,
			Role:      role,
		}
	}
	for follower, followed := range file.Follows {
		for _, id := range append([]string{follower}, followed...) {
			if _, ok := directory.users[id]; !ok {
				return nil, fmt.Errorf("%w: %s in follows", errors.ErrUserNotFound, id)
			}
		}
		for _, id := range lo.Uniq(followed) {
			if id == follower {
				continue
			}
			directory.following[follower] = append(directory.following[follower], id)
			directory.followers[id] = append(directory.followers[id], follower)
		}
	}
	for _, ids := range directory.followers {
		slices.Sort(ids)
	}
	return directory, nil
}

func (d *StaticDirectory) GetUser(_ context.Context, id string) (domain.User, error) {
	user, ok := d.users[id]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: %s", errors.ErrUserNotFound, id)
	}
	return user, nil
}

func (d *StaticDirectory) ListFollowing(_ context.Context, userID string) ([]string, error) {
	return slices.Clone(d.following[userID]), nil
}

func (d *StaticDirectory) ListFollowers(_ context.Context, userID string) ([]string, error) {
	return slices.Clone(d.followers[userID]), nil
}

// Users returns every known user ordered by id.
func (d *StaticDirectory) Users() []domain.User {
	users := lo.Values(d.users)
	slices.SortFunc(users, func(a, b domain.User) int { return strings.Compare(a.ID, b.ID) })
	return users
}
