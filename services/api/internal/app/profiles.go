package app

import (
	"context"
	"fmt"
	"io"

	"hustl/pkg/domain"
	"hustl/pkg/storage"
)

// Profiles reads and edits user profiles.
type Profiles struct {
	app *App
}

// GetCurrent returns the profile of the user in ctx.
func (p *Profiles) GetCurrent(ctx context.Context) (domain.Profile, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return domain.Profile{}, ErrNoAuthenticatedUser
	}
	return p.app.store.GetProfile(ctx, userID)
}

func (p *Profiles) Get(ctx context.Context, id string) (domain.Profile, error) {
	return p.app.store.GetProfile(ctx, id)
}

// Update edits the current user's profile.
func (p *Profiles) Update(ctx context.Context, patch domain.ProfilePatch) (domain.Profile, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return domain.Profile{}, ErrNoAuthenticatedUser
	}
	v := validator{}
	if patch.FullName != nil {
		name := plainText(*patch.FullName)
		v.check(name != "", "full_name", "must not be empty")
		patch.FullName = &name
	}
	for _, field := range []*string{patch.Phone, patch.University, patch.StudentID} {
		if field != nil {
			*field = plainText(*field)
		}
	}
	if err := v.err(); err != nil {
		return domain.Profile{}, err
	}
	return p.app.store.UpdateProfile(ctx, userID, patch)
}

// UpdateStats overwrites aggregate counters without bounds checks.
func (p *Profiles) UpdateStats(ctx context.Context, userID string, stats domain.ProfileStats) (domain.Profile, error) {
	return p.app.store.UpdateProfileStats(ctx, userID, stats)
}

// SetAvatar uploads a profile picture for the current user.
func (p *Profiles) SetAvatar(ctx context.Context, filename string, r io.Reader, size int64) (domain.Profile, error) {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return domain.Profile{}, ErrNoAuthenticatedUser
	}
	url, err := p.app.uploadImage(ctx, storage.AvatarKey(userID, filename), filename, r, size)
	if err != nil {
		return domain.Profile{}, err
	}
	return p.app.store.UpdateProfile(ctx, userID, domain.ProfilePatch{AvatarURL: &url})
}

func (p *Profiles) ListReviews(ctx context.Context, id string) ([]domain.Review, error) {
	return p.app.store.ListReviewsFor(ctx, id)
}

func (a *App) uploadImage(ctx context.Context, key, filename string, r io.Reader, size int64) (string, error) {
	if a.objects == nil {
		return "", ErrStorageDisabled
	}
	v := validator{}
	v.check(storage.IsImage(filename), "file", "must be a jpg, png, gif, webp or heic image")
	v.check(size > 0, "file", "must not be empty")
	v.check(size <= a.maxImageBytes, "file", fmt.Sprintf("must be at most %d bytes", a.maxImageBytes))
	if err := v.err(); err != nil {
		return "", err
	}
	if err := a.objects.Put(ctx, key, r, size, storage.ContentTypeFor(filename)); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return a.objects.URL(key), nil
}
