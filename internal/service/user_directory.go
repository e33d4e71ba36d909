package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"golang.org/x/sync/errgroup"
)

// Directory resolves user projections for the messaging core.
type Directory interface {
	Lookup(ctx context.Context, username string) (*model.User, error)
	// Resolve looks up several users concurrently. Unknown users are absent
	// from the result; any other failure aborts the batch.
	Resolve(ctx context.Context, usernames []string) (map[string]*model.User, error)
}

type UserDirectory struct {
	users UserFinder
	cache *expirable.LRU[string, *model.User]
}

var _ Directory = (*UserDirectory)(nil)

// NewUserDirectory returns a cache-aside directory. Entries expire after ttl
// so bans and deactivations propagate without a restart.
func NewUserDirectory(users UserFinder, size int, ttl time.Duration) *UserDirectory {
	if size <= 0 {
		size = 1024
	}
	return &UserDirectory{
		users: users,
		// [MEMORY_MANAGEMENT] bounded hot set of identities
		cache: expirable.NewLRU[string, *model.User](size, nil, ttl),
	}
}

func (d *UserDirectory) Lookup(ctx context.Context, username string) (*model.User, error) {
	if err := model.ValidateIdentity(username); err != nil {
		return nil, err
	}
	// [HOT_PATH]
	if u, ok := d.cache.Get(username); ok {
		return u, nil
	}

	u, err := d.users.FindUser(ctx, username)
	if err != nil {
		return nil, err
	}
	d.cache.Add(username, u)
	return u, nil
}

func (d *UserDirectory) Resolve(ctx context.Context, usernames []string) (map[string]*model.User, error) {
	found := make([]*model.User, len(usernames))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range usernames {
		g.Go(func() error {
			u, err := d.Lookup(gCtx, name)
			switch {
			case err == nil:
				found[i] = u
				return nil
			case errorsIsNotFound(err):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}

	out := make(map[string]*model.User, len(usernames))
	for _, u := range found {
		if u != nil {
			out[u.Username] = u
		}
	}
	return out, nil
}

// Forget drops a cached entry, for example after a ban notification.
func (d *UserDirectory) Forget(username string) {
	d.cache.Remove(username)
}

func errorsIsNotFound(err error) bool { return errors.Is(err, model.ErrNotFound) }
