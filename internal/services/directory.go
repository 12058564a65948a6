package services

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/social-credit/internal/domain"
)

// UserDirectory maps identity tags to stored users.
type UserDirectory struct {
	Store Store
	// Self is the engine's own identity; events from it are ignored.
	Self domain.Identity
	Log  zerolog.Logger
}

// ResolveOrCreate parses tag and returns the matching user, inserting a
// Default-role user on first sight.
func (d *UserDirectory) ResolveOrCreate(ctx context.Context, tag string) (*domain.User, error) {
	ctx, span := otel.Tracer("services/UserDirectory").Start(ctx, "ResolveOrCreate",
		trace.WithAttributes(attribute.String("user.tag", tag)),
	)
	defer span.End()

	id, ok := domain.ParseIdentity(tag)
	if !ok {
		return nil, ErrMalformedIdentity
	}
	u, created, err := d.Store.EnsureUser(ctx, id.Name, id.URL, domain.RoleDefault)
	if err != nil {
		return nil, err
	}
	if created {
		d.Log.Debug().Str("user", tag).Uint("id", u.ID).Msg("registered user")
	}
	return u, nil
}

// IsSelf reports whether u is the engine's own account. Comparison is exact
// on (name, url).
func (d *UserDirectory) IsSelf(u *domain.User) bool {
	return u != nil && u.Name == d.Self.Name && u.URL == d.Self.URL
}

// IsSelfTag is IsSelf for a raw tag. Unparseable tags are never self.
func (d *UserDirectory) IsSelfTag(tag string) bool {
	id, ok := domain.ParseIdentity(tag)
	return ok && id == d.Self
}

// BootstrapAdmin makes sure the configured administrator exists with the
// Admin role, promoting an existing user when necessary.
func (d *UserDirectory) BootstrapAdmin(ctx context.Context, tag string) (*domain.User, error) {
	id, ok := domain.ParseIdentity(tag)
	if !ok {
		return nil, ErrMalformedIdentity
	}
	u, created, err := d.Store.EnsureUser(ctx, id.Name, id.URL, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	if !created && u.Role != domain.RoleAdmin {
		if err := d.Store.SetUserRole(ctx, u.ID, domain.RoleAdmin); err != nil {
			return nil, err
		}
		u.Role = domain.RoleAdmin
		d.Log.Info().Str("user", tag).Msg("promoted user to admin")
	}
	return u, nil
}
