// Package lookup queries the building registry for landlord contacts and
// prefills the landlord step with the most authoritative one.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"letter-wizard/internal/common/config"
	"letter-wizard/internal/common/errors"
	commonhttp "letter-wizard/internal/common/http"
	"letter-wizard/internal/common/logger"
	"letter-wizard/internal/wizard/fields"
)

// Contact is one registered party for a building.
type Contact struct {
	Name    string                `json:"name"`
	Title   string                `json:"title"`
	Address fields.MailingAddress `json:"address"`
}

// Registration titles in descending order of authority. Titles not listed
// never become the primary owner.
var titlePriority = map[string]int{
	"HeadOfficer":     3,
	"IndividualOwner": 2,
	"JointOwner":      1,
}

// Client fetches contacts from the registry, caching answers in Redis since
// registration data changes on the order of months.
type Client struct {
	baseURL    string
	httpClient *commonhttp.Client
	cache      *redis.Client
	cacheTTL   time.Duration
	logger     logger.Logger
}

func New(cfg *config.Config, cache *redis.Client, log logger.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.Services.Lookup.BaseURL, "/"),
		httpClient: commonhttp.NewClient(time.Duration(cfg.Services.Lookup.Timeout) * time.Millisecond),
		cache:      cache,
		cacheTTL:   time.Duration(cfg.Services.Lookup.CacheTTL) * time.Second,
		logger:     log,
	}
}

func cacheKey(bbl string) string {
	return "lookup:contacts:" + bbl
}

// Contacts returns all registered contacts for a building, served from cache
// when possible. A cache failure falls through to the registry.
func (c *Client) Contacts(ctx context.Context, bbl string) ([]Contact, error) {
	if c.cache != nil {
		cached, err := c.cache.Get(ctx, cacheKey(bbl)).Result()
		if err == nil {
			var contacts []Contact
			if jsonErr := json.Unmarshal([]byte(cached), &contacts); jsonErr == nil {
				c.logger.Debug("Registry cache hit", map[string]interface{}{"bbl": bbl})
				return contacts, nil
			}
		} else if err != redis.Nil {
			c.logger.Warn("Registry cache read failed", map[string]interface{}{
				"bbl":   bbl,
				"error": err.Error(),
			})
		}
	}

	contacts, err := c.fetch(ctx, bbl)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if payload, jsonErr := json.Marshal(contacts); jsonErr == nil {
			if setErr := c.cache.Set(ctx, cacheKey(bbl), payload, c.cacheTTL).Err(); setErr != nil {
				c.logger.Warn("Registry cache write failed", map[string]interface{}{
					"bbl":   bbl,
					"error": setErr.Error(),
				})
			}
		}
	}

	return contacts, nil
}

func (c *Client) fetch(ctx context.Context, bbl string) ([]Contact, error) {
	url := fmt.Sprintf("%s/buildings/%s/contacts", c.baseURL, bbl)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.NewLookupFailedError(err)
	}

	resp, err := c.httpClient.DoWithContext(ctx, req)
	if err != nil {
		return nil, errors.NewLookupFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, errors.NewLookupNotFoundError(bbl)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewLookupFailedError(
			fmt.Errorf("registry returned status %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewLookupFailedError(err)
	}

	var payload struct {
		Contacts []Contact `json:"contacts"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errors.NewLookupFailedError(err)
	}

	return payload.Contacts, nil
}

// PrimaryOwner picks the most authoritative contact: highest title priority,
// ties broken by name so the answer is stable across calls.
func PrimaryOwner(contacts []Contact) (Contact, bool) {
	eligible := make([]Contact, 0, len(contacts))
	for _, contact := range contacts {
		if _, ok := titlePriority[contact.Title]; ok {
			eligible = append(eligible, contact)
		}
	}
	if len(eligible) == 0 {
		return Contact{}, false
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		pi, pj := titlePriority[eligible[i].Title], titlePriority[eligible[j].Title]
		if pi != pj {
			return pi > pj
		}
		return eligible[i].Name < eligible[j].Name
	})

	return eligible[0], true
}

// LandlordFor resolves the primary owner for a building in one call.
func (c *Client) LandlordFor(ctx context.Context, bbl string) (*Contact, error) {
	contacts, err := c.Contacts(ctx, bbl)
	if err != nil {
		return nil, err
	}
	owner, ok := PrimaryOwner(contacts)
	if !ok {
		return nil, errors.NewLookupNotFoundError(bbl)
	}
	return &owner, nil
}
