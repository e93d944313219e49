package fakeapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfeidau/stockpile/internal/models"
)

var (
	errEmailTaken        = errors.New("a user with this email already exists")
	errInvalidLogin      = errors.New("invalid email or password")
	errUnknownRefresh    = errors.New("invalid refresh token")
	errUnknownUser       = errors.New("user not found")
	errAlreadyOnboarded  = errors.New("user already belongs to an organization")
	errNotOnboarded      = errors.New("user has no organization")
	errDuplicateCategory = errors.New("category with this name already exists")
)

type user struct {
	profile      models.UserProfile
	passwordHash [32]byte
}

// state is the in-memory backing store. All methods are safe for concurrent
// use.
type state struct {
	mu sync.RWMutex

	users   map[string]*user
	byEmail map[string]string

	// refresh token -> user id
	refreshTokens map[string]string
	// access token id -> user id, for tokens that have not been revoked
	accessTokens map[string]string

	// organization id -> categories
	categories map[string][]models.Category
}

func newState() *state {
	return &state{
		users:         map[string]*user{},
		byEmail:       map[string]string{},
		refreshTokens: map[string]string{},
		accessTokens:  map[string]string{},
		categories:    map[string][]models.Category{},
	}
}

func hashPassword(password string) [32]byte {
	return sha256.Sum256([]byte(password))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *state) createUser(firstName, lastName, email, password string) (models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeEmail(email)
	if _, ok := s.byEmail[key]; ok {
		return models.UserProfile{}, errEmailTaken
	}

	u := &user{
		profile: models.UserProfile{
			ID:            models.ID(uuid.NewString()),
			FirstName:     firstName,
			LastName:      lastName,
			Email:         key,
			Organizations: []models.Organization{},
		},
		passwordHash: hashPassword(password),
	}
	s.users[u.profile.ID.String()] = u
	s.byEmail[key] = u.profile.ID.String()

	return cloneProfile(u.profile), nil
}

func (s *state) authenticate(email, password string) (models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return models.UserProfile{}, errInvalidLogin
	}
	u := s.users[id]
	hash := hashPassword(password)
	if subtle.ConstantTimeCompare(hash[:], u.passwordHash[:]) != 1 {
		return models.UserProfile{}, errInvalidLogin
	}
	return cloneProfile(u.profile), nil
}

func (s *state) profile(userID string) (models.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return models.UserProfile{}, errUnknownUser
	}
	return cloneProfile(u.profile), nil
}

func (s *state) issueRefreshToken(userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	token := uuid.NewString()
	s.refreshTokens[token] = userID
	return token
}

// rotateRefreshToken consumes token and returns the user it belonged to with
// a replacement token.
func (s *state) rotateRefreshToken(token string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.refreshTokens[token]
	if !ok {
		return "", "", errUnknownRefresh
	}
	delete(s.refreshTokens, token)

	next := uuid.NewString()
	s.refreshTokens[next] = userID
	return userID, next, nil
}

func (s *state) trackAccessToken(tokenID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[tokenID] = userID
}

func (s *state) accessTokenValid(tokenID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accessTokens[tokenID]
	return ok
}

// revokeAccessTokens invalidates every access token, or only those of
// userID when it is set.
func (s *state) revokeAccessTokens(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, owner := range s.accessTokens {
		if userID == "" || owner == userID {
			delete(s.accessTokens, id)
			n++
		}
	}
	return n
}

// signout revokes the refresh token and all access tokens of its owner.
func (s *state) signout(refreshToken string) {
	s.mu.Lock()
	userID, ok := s.refreshTokens[refreshToken]
	delete(s.refreshTokens, refreshToken)
	s.mu.Unlock()

	if ok {
		s.revokeAccessTokens(userID)
	}
}

func (s *state) onboard(userID string, org models.Organization, firstName, lastName string) (models.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return models.UserProfile{}, errUnknownUser
	}
	if len(u.profile.Organizations) > 0 {
		return models.UserProfile{}, errAlreadyOnboarded
	}

	org.ID = models.ID(uuid.NewString())
	u.profile.Organizations = append(u.profile.Organizations, org)
	if firstName != "" {
		u.profile.FirstName = firstName
	}
	if lastName != "" {
		u.profile.LastName = lastName
	}

	return cloneProfile(u.profile), nil
}

func (s *state) orgFor(userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return "", errUnknownUser
	}
	if len(u.profile.Organizations) == 0 {
		return "", errNotOnboarded
	}
	return u.profile.Organizations[0].ID.String(), nil
}

func (s *state) listCategories(orgID string) []models.Category {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.categories[orgID])
}

func (s *state) addCategory(orgID, name, description string) (models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.categories[orgID] {
		if strings.EqualFold(c.Name, name) {
			return models.Category{}, errDuplicateCategory
		}
	}

	c := models.Category{
		ID:          models.ID(uuid.NewString()),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	s.categories[orgID] = append(s.categories[orgID], c)
	return c, nil
}

func cloneProfile(p models.UserProfile) models.UserProfile {
	p.Organizations = slices.Clone(p.Organizations)
	if p.Organizations == nil {
		p.Organizations = []models.Organization{}
	}
	return p
}
