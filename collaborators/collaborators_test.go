package collaborators

import (
	"chat-engine/domain"
	"chat-engine/errors"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const directoryYAML = `
users:
  - id: alice
    name: Alice
    avatar_url: https://example.com/alice.png
  - id: bob
    name: Bob
    role: EXPERT
  - id: carol
    name: Carol
follows:
  alice: [bob, carol, bob, alice]
  carol: [alice]
`

func TestParseDirectory(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	directory, err := ParseDirectory([]byte(directoryYAML))
	req.NoError(err)

	bob, err := directory.GetUser(ctx, "bob")
	req.NoError(err)
	req.Equal(domain.RoleExpert, bob.Role)
	alice, err := directory.GetUser(ctx, "alice")
	req.NoError(err)
	req.Equal(domain.RoleUser, alice.Role)

	_, err = directory.GetUser(ctx, "dave")
	req.ErrorIs(err, errors.ErrUserNotFound)
	req.Len(directory.Users(), 3)
}

func TestParseDirectory_Follow_Graph_Is_Deduplicated(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	directory, err := ParseDirectory([]byte(directoryYAML))
	req.NoError(err)

	following, err := directory.ListFollowing(ctx, "alice")
	req.NoError(err)
	req.Equal([]string{"bob", "carol"}, following)

	followers, err := directory.ListFollowers(ctx, "alice")
	req.NoError(err)
	req.Equal([]string{"carol"}, followers)

	followers, err = directory.ListFollowers(ctx, "bob")
	req.NoError(err)
	req.Equal([]string{"alice"}, followers)
}

func TestParseDirectory_Rejects_Invalid_Files(t *testing.T) {
	req := require.New(t)

	_, err := ParseDirectory([]byte("users:\n  - id: alice\n"))
	req.Error(err)

	_, err = ParseDirectory([]byte("users:\n  - id: alice\n    name: Alice\n    role: ADMIN\n"))
	req.Error(err)

	_, err = ParseDirectory([]byte("users:\n  - id: alice\n    name: Alice\nfollows:\n  alice: [zed]\n"))
	req.ErrorIs(err, errors.ErrUserNotFound)
}

func TestContextCountryDetector(t *testing.T) {
	req := require.New(t)

	country, err := NewContextCountryDetector("").DetectCountry(WithCountry(context.Background(), "fr"))
	req.NoError(err)
	req.Equal(domain.Country{Code: "FR", Name: "France"}, country)

	country, err = NewContextCountryDetector("US").DetectCountry(context.Background())
	req.NoError(err)
	req.Equal("US", country.Code)

	_, err = NewContextCountryDetector("").DetectCountry(context.Background())
	req.ErrorIs(err, errors.ErrCountryNotDetected)

	_, err = NewContextCountryDetector("").DetectCountry(WithCountry(context.Background(), "nowhere"))
	req.ErrorIs(err, errors.ErrInvalidCountry)
}
