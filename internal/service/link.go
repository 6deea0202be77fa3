// Package service holds the link lifecycle and click-flush logic
// between the HTTP handlers and the storage layers.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/shortstat/shortstat/internal/cache"
	"github.com/shortstat/shortstat/internal/metrics"
	"github.com/shortstat/shortstat/internal/model"
	"github.com/shortstat/shortstat/internal/repository"
)

var (
	ErrInvalidDestination  = errors.New("invalid destination URL")
	ErrInvalidAlias        = errors.New("invalid alias format")
	ErrAliasExists         = errors.New("alias already exists")
	ErrLinkNotFound        = errors.New("link not found")
	ErrLinkExpired         = errors.New("link is expired")
	ErrLinkDisabled        = errors.New("link is disabled")
	ErrExpiresInPast       = errors.New("expires_at must be in the future")
	ErrInvalidRedirectType = errors.New("invalid redirect type")
	ErrURLTooLong          = errors.New("destination URL too long")
)

// Custom aliases: 3-50 chars, alphanumeric plus hyphen.
var aliasShape = regexp.MustCompile(`^[a-zA-Z0-9-]{3,50}$`)

const (
	maxDestinationLength = 2048
	aliasLength          = 7
	aliasAlphabet        = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	maxAliasRetries      = 3
)

// LinkService owns the link lifecycle: create, list, update,
// soft-delete, and the redirect-resolution hot path.
type LinkService struct {
	repo    *repository.Repository
	cache   *cache.Cache
	baseURL string
	metrics metrics.Recorder
	logger  *slog.Logger
}

func NewLinkService(repo *repository.Repository, cache *cache.Cache, baseURL string, recorder metrics.Recorder, logger *slog.Logger) *LinkService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkService{
		repo:    repo,
		cache:   cache,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		metrics: recorder,
		logger:  logger,
	}
}

// CreateLinkInput carries the fields a caller may set on a new link.
type CreateLinkInput struct {
	Destination  string
	Alias        string
	RedirectType int
	ExpiresAt    *time.Time
	OwnerID      string
}

// CreateLink validates the input and persists a new short link. An
// empty Alias gets a generated 7-char code; a supplied one must match
// the alias shape and be free.
func (s *LinkService) CreateLink(ctx context.Context, input CreateLinkInput) (*model.Link, error) {
	if err := s.validateDestination(input.Destination); err != nil {
		return nil, err
	}

	redirectType := model.RedirectTemporary
	if input.RedirectType != 0 {
		redirectType = model.RedirectType(input.RedirectType)
		if !redirectType.IsValid() {
			return nil, ErrInvalidRedirectType
		}
	}

	if input.ExpiresAt != nil && input.ExpiresAt.Before(time.Now()) {
		return nil, ErrExpiresInPast
	}

	alias := input.Alias
	if alias == "" {
		var err error
		if alias, err = s.freeAlias(ctx); err != nil {
			return nil, fmt.Errorf("generate alias: %w", err)
		}
	} else if !aliasShape.MatchString(alias) {
		return nil, ErrInvalidAlias
	}

	ownerID := input.OwnerID
	if ownerID == "" {
		ownerID = "system"
	}

	now := time.Now().UTC()
	link := &model.Link{
		ID:           ulid.Make().String(),
		ShortCode:    alias,
		Destination:  input.Destination,
		RedirectType: redirectType,
		OwnerID:      ownerID,
		Enabled:      true,
		ExpiresAt:    input.ExpiresAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.repo.CreateLink(ctx, link); err != nil {
		if errors.Is(err, repository.ErrAliasExists) {
			return nil, ErrAliasExists
		}
		return nil, fmt.Errorf("create link: %w", err)
	}

	s.metrics.IncLinkCreated()

	return link, nil
}

// GetLink retrieves a link by ID.
func (s *LinkService) GetLink(ctx context.Context, id string) (*model.Link, error) {
	link, err := s.repo.GetLinkByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}
	return link, nil
}

// ListLinksInput carries pagination and filter parameters.
type ListLinksInput struct {
	OwnerID       string
	Cursor        string
	Limit         int
	Status        string
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// ListLinksOutput is one page of links plus the cursor for the next.
type ListLinksOutput struct {
	Links      []*model.Link
	NextCursor string
	HasMore    bool
}

// ListLinks returns a cursor-paginated page of the owner's links.
// Status filtering happens after the page is fetched because status
// is computed, not stored, so a filtered page may come back short.
func (s *LinkService) ListLinks(ctx context.Context, input ListLinksInput) (*ListLinksOutput, error) {
	if input.Limit <= 0 || input.Limit > 100 {
		input.Limit = 20
	}
	if input.OwnerID == "" {
		input.OwnerID = "system"
	}

	filter := repository.LinkFilter{
		OwnerID:       input.OwnerID,
		CreatedAfter:  input.CreatedAfter,
		CreatedBefore: input.CreatedBefore,
	}

	links, nextCursor, err := s.repo.ListLinks(ctx, filter, input.Cursor, input.Limit)
	if err != nil {
		return nil, err
	}

	if input.Status != "" {
		links = filterByStatus(links, model.LinkStatus(input.Status))
	}

	return &ListLinksOutput{
		Links:      links,
		NextCursor: nextCursor,
		HasMore:    nextCursor != "",
	}, nil
}

func filterByStatus(links []*model.Link, want model.LinkStatus) []*model.Link {
	kept := links[:0]
	for _, link := range links {
		if link.Status() == want {
			kept = append(kept, link)
		}
	}
	return kept
}

// UpdateLinkInput carries the mutable link fields. Nil pointers leave
// the field untouched; ClearExpiry drops expires_at entirely.
type UpdateLinkInput struct {
	ID           string
	Destination  *string
	RedirectType *int
	ExpiresAt    *time.Time
	Enabled      *bool
	ClearExpiry  bool
}

// UpdateLink applies the set fields to an existing link. Expired
// links are immutable.
func (s *LinkService) UpdateLink(ctx context.Context, input UpdateLinkInput) (*model.Link, error) {
	link, err := s.repo.GetLinkByID(ctx, input.ID)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return nil, ErrLinkNotFound
		}
		return nil, err
	}

	if link.IsExpired() {
		return nil, ErrLinkExpired
	}

	if input.Destination != nil {
		if err := s.validateDestination(*input.Destination); err != nil {
			return nil, err
		}
		link.Destination = *input.Destination
	}

	if input.RedirectType != nil {
		redirectType := model.RedirectType(*input.RedirectType)
		if !redirectType.IsValid() {
			return nil, ErrInvalidRedirectType
		}
		link.RedirectType = redirectType
	}

	if input.ClearExpiry {
		link.ExpiresAt = nil
	} else if input.ExpiresAt != nil {
		if input.ExpiresAt.Before(time.Now()) {
			return nil, ErrExpiresInPast
		}
		link.ExpiresAt = input.ExpiresAt
	}

	if input.Enabled != nil {
		link.Enabled = *input.Enabled
	}

	if err := s.repo.UpdateLink(ctx, link); err != nil {
		return nil, err
	}

	s.metrics.IncLinkUpdated()
	s.evictCached(ctx, link.ShortCode)

	return link, nil
}

// DeleteLink soft-deletes a link and evicts it from the cache.
func (s *LinkService) DeleteLink(ctx context.Context, id string) error {
	link, err := s.repo.GetLinkByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			return ErrLinkNotFound
		}
		return err
	}

	if err := s.repo.DeleteLink(ctx, id); err != nil {
		return err
	}

	s.metrics.IncLinkDeleted()
	s.evictCached(ctx, link.ShortCode)

	return nil
}

// ResolveRedirect maps a short code to its link for the redirect hot
// path: Redis first, negative cache second, Postgres last with a
// cache backfill. The bool reports whether Redis answered.
func (s *LinkService) ResolveRedirect(ctx context.Context, shortCode string) (*model.Link, bool, error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveRedirectDuration(time.Since(start))
	}()

	cached, err := s.cache.GetLink(ctx, shortCode)
	if err == nil {
		s.metrics.IncRedirectCacheHit()
		link, err := s.validateRedirectLink(ctx, cached.ToLink(shortCode), shortCode)
		return link, true, err
	}

	if errors.Is(err, cache.ErrCacheMiss) {
		s.metrics.IncRedirectCacheMiss()
		if negative, _ := s.cache.IsNegativelyCached(ctx, shortCode); negative {
			return nil, false, ErrLinkNotFound
		}
	} else {
		// Redis trouble is not fatal on this path; Postgres answers.
		s.logger.Warn("link cache read failed", slog.String("short_code", shortCode), slog.Any("error", err))
	}

	link, err := s.repo.GetLinkByShortCode(ctx, shortCode)
	if err != nil {
		if errors.Is(err, repository.ErrLinkNotFound) {
			_ = s.cache.SetNegativeCache(ctx, shortCode)
			return nil, false, ErrLinkNotFound
		}
		return nil, false, err
	}

	if err := s.cache.SetLink(ctx, shortCode, link); err != nil {
		s.logger.Warn("link cache backfill failed", slog.String("short_code", shortCode), slog.Any("error", err))
	}

	validated, err := s.validateRedirectLink(ctx, link, shortCode)
	return validated, false, err
}

// IncrementClickAsync bumps the Redis click counter without blocking
// the redirect response.
func (s *LinkService) IncrementClickAsync(ctx context.Context, shortCode string) {
	go func() {
		if err := s.cache.IncrementClicks(context.Background(), shortCode); err != nil {
			s.logger.Warn("click increment failed", slog.String("short_code", shortCode), slog.Any("error", err))
		}
	}()
}

// BaseURL returns the configured base URL without a trailing slash.
func (s *LinkService) BaseURL() string {
	return s.baseURL
}

// evictCached drops a link from the cache. Failure is logged only;
// the TTL bounds how long a stale entry can serve.
func (s *LinkService) evictCached(ctx context.Context, shortCode string) {
	if err := s.cache.DeleteLink(ctx, shortCode); err != nil {
		s.logger.Warn("link cache evict failed", slog.String("short_code", shortCode), slog.Any("error", err))
	}
}

func (s *LinkService) validateRedirectLink(ctx context.Context, link *model.Link, shortCode string) (*model.Link, error) {
	switch {
	case link.DeletedAt != nil:
		return nil, ErrLinkNotFound
	case !link.Enabled:
		return nil, ErrLinkDisabled
	case link.IsExpired():
		s.evictCached(ctx, shortCode)
		return nil, ErrLinkExpired
	}
	return link, nil
}

func (s *LinkService) validateDestination(dest string) error {
	if dest == "" {
		return ErrInvalidDestination
	}
	if len(dest) > maxDestinationLength {
		return ErrURLTooLong
	}

	parsed, err := url.Parse(dest)
	if err != nil {
		return ErrInvalidDestination
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return ErrInvalidDestination
	}
	if parsed.Host == "" {
		return ErrInvalidDestination
	}

	return nil
}

// freeAlias draws random codes until one is unclaimed. With 62^7
// codes, collisions mean either bad luck or a near-full namespace;
// either way three tries is enough to tell.
func (s *LinkService) freeAlias(ctx context.Context) (string, error) {
	for i := 0; i < maxAliasRetries; i++ {
		alias, err := randomAlias()
		if err != nil {
			return "", err
		}
		exists, err := s.repo.ShortCodeExists(ctx, alias)
		if err != nil {
			return "", err
		}
		if !exists {
			return alias, nil
		}
	}
	return "", errors.New("alias space exhausted after retries")
}

func randomAlias() (string, error) {
	b := make([]byte, aliasLength)
	alphabetLen := big.NewInt(int64(len(aliasAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b[i] = aliasAlphabet[n.Int64()]
	}
	return string(b), nil
}
