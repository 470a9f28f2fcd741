// Package memory is an in-process implementation of store.Store. Every method
// runs under one mutex, so each call is trivially its own unit of work.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goIdentity/store"
)

// Store is a mutex-guarded map store. Records are copied on the way in and
// out so callers never share memory with the store.
type Store struct {
	mu sync.Mutex

	users       map[string]*store.User
	sessions    map[string]*store.Session
	otps        map[string]*store.OtpRecord
	roles       map[string]store.Role
	permissions map[string]store.Permission
	userRoles   map[string]map[string]struct{}
	rolePerms   map[string]map[string]struct{}
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[string]*store.User),
		sessions:    make(map[string]*store.Session),
		otps:        make(map[string]*store.OtpRecord),
		roles:       make(map[string]store.Role),
		permissions: make(map[string]store.Permission),
		userRoles:   make(map[string]map[string]struct{}),
		rolePerms:   make(map[string]map[string]struct{}),
	}
}

var _ store.Store = (*Store)(nil)

// CreateUser inserts a new user. Username and email must be unique.
func (s *Store) CreateUser(_ context.Context, user *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return store.ErrConflict
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return store.ErrConflict
		}
	}
	c := cloneUser(user)
	if c.Status == "" {
		c.Status = store.UserActive
	}
	s.users[user.ID] = c
	return nil
}

// CreateRole inserts or replaces a role.
func (s *Store) CreateRole(_ context.Context, role store.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[role.ID] = role
	return nil
}

// CreatePermission inserts or replaces a permission.
func (s *Store) CreatePermission(_ context.Context, perm store.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.permissions[perm.ID] = perm
	return nil
}

func (s *Store) FindUserByID(_ context.Context, userID string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) FindUserByUsernameOrEmail(_ context.Context, identifier string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, identifier) || strings.EqualFold(u.Email, identifier) {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SaveUser(_ context.Context, user *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; !ok {
		return store.ErrNotFound
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *Store) IncrementFailedLogins(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	u.FailedLoginAttempts++
	return u.FailedLoginAttempts, nil
}

func (s *Store) LockUser(_ context.Context, userID string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Status = store.UserLocked
	u.AccountLockedUntil = &until
	return nil
}

func (s *Store) ClearLockout(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Status = store.UserActive
	u.FailedLoginAttempts = 0
	u.AccountLockedUntil = nil
	return nil
}

func (s *Store) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.FirstLogin = false
	return nil
}

func (s *Store) RehashPassword(_ context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (s *Store) SetCurrentSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.CurrentSessionID = sessionID
	return nil
}

func (s *Store) ClearCurrentSession(_ context.Context, userID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, store.ErrNotFound
	}
	if u.CurrentSessionID != sessionID {
		return false, nil
	}
	u.CurrentSessionID = ""
	return true, nil
}

func (s *Store) ResetCurrentSession(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.CurrentSessionID = ""
	return nil
}

func (s *Store) FindSessionByID(_ context.Context, sessionID string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *Store) FindSessionByAccessToken(_ context.Context, token string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if token != "" && sess.AccessToken == token {
			return cloneSession(sess), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindSessionByRefreshToken(_ context.Context, token string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if token != "" && sess.RefreshToken == token {
			return cloneSession(sess), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) SaveSession(_ context.Context, session *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(session)
	return nil
}

func (s *Store) FindActiveSessionsByUser(_ context.Context, userID string) ([]*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.IsActive {
			out = append(out, cloneSession(sess))
		}
	}
	sortSessions(out)
	return out, nil
}

func (s *Store) InsertExclusiveSession(_ context.Context, session *store.Session, reason string) ([]*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[session.UserID]
	if !ok {
		return nil, store.ErrNotFound
	}

	now := session.CreatedAt
	var evicted []*store.Session
	for _, sess := range s.sessions {
		if sess.UserID != session.UserID || !sess.IsActive || sess.ID == session.ID {
			continue
		}
		sess.IsActive = false
		sess.TerminationReason = reason
		at := now
		sess.TerminatedAt = &at
		evicted = append(evicted, cloneSession(sess))
	}
	s.sessions[session.ID] = cloneSession(session)
	u.CurrentSessionID = session.ID
	sortSessions(evicted)
	return evicted, nil
}

func (s *Store) DeactivateSession(_ context.Context, sessionID, reason string, at time.Time) (*store.Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, false, store.ErrNotFound
	}
	if !sess.IsActive {
		return cloneSession(sess), false, nil
	}
	sess.IsActive = false
	sess.TerminationReason = reason
	sess.TerminatedAt = &at
	return cloneSession(sess), true, nil
}

func (s *Store) TouchSession(_ context.Context, sessionID string, lastActivity, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || !sess.IsActive {
		return false, nil
	}
	sess.LastActivityAt = lastActivity
	sess.ExpiresAt = expiresAt
	return true, nil
}

func (s *Store) UpdateSessionAccessToken(_ context.Context, sessionID, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	sess.AccessToken = accessToken
	return nil
}

func (s *Store) FindExpiredActiveSessions(_ context.Context, now time.Time, limit int) ([]*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*store.Session
	for _, sess := range s.sessions {
		if sess.IsActive && !now.Before(sess.ExpiresAt) {
			out = append(out, cloneSession(sess))
		}
	}
	sortSessions(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) IssueOtp(_ context.Context, record *store.OtpRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.pendingOtp(record.UserID, record.Purpose)
	if cur != nil {
		record.RequestID = cur.RequestID
		record.CreatedAt = cur.CreatedAt
	}
	record.Status = store.OtpPending
	c := *record
	s.otps[c.RequestID] = &c
	return cur != nil, nil
}

func (s *Store) FindOtpByRequestID(_ context.Context, requestID string) (*store.OtpRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.otps[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *Store) FindPendingOtp(_ context.Context, userID, purpose string) (*store.OtpRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := s.pendingOtp(userID, purpose)
	if found == nil {
		return nil, store.ErrNotFound
	}
	c := *found
	return &c, nil
}

// pendingOtp must be called with mu held.
func (s *Store) pendingOtp(userID, purpose string) *store.OtpRecord {
	var found *store.OtpRecord
	for _, rec := range s.otps {
		if rec.UserID != userID || rec.Purpose != purpose || rec.Status != store.OtpPending {
			continue
		}
		if found == nil || rec.CreatedAt.After(found.CreatedAt) {
			found = rec
		}
	}
	return found
}

func (s *Store) ReserveOtpAttempt(_ context.Context, requestID string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.otps[requestID]
	if !ok {
		return 0, false, store.ErrNotFound
	}
	if rec.Status != store.OtpPending || rec.AttemptCount >= rec.MaxAttempts {
		return rec.AttemptCount, false, nil
	}
	rec.AttemptCount++
	return rec.AttemptCount, true, nil
}

func (s *Store) TransitionOtpStatus(_ context.Context, requestID string, from, to store.OtpStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.otps[requestID]
	if !ok {
		return false, store.ErrNotFound
	}
	if rec.Status != from {
		return false, nil
	}
	rec.Status = to
	return true, nil
}

func (s *Store) UpdateOtpDelivery(_ context.Context, requestID string, status store.DeliveryStatus, deliveryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.otps[requestID]
	if !ok {
		return store.ErrNotFound
	}
	rec.DeliveryStatus = status
	rec.DeliveryID = deliveryID
	return nil
}

func (s *Store) FindRolesByUser(_ context.Context, userID string) ([]store.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []store.Role
	for roleID := range s.userRoles[userID] {
		if role, ok := s.roles[roleID]; ok {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) FindPermissionsByRoles(_ context.Context, roleIDs []string) ([]store.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var out []store.Permission
	for _, roleID := range roleIDs {
		for permID := range s.rolePerms[roleID] {
			if _, dup := seen[permID]; dup {
				continue
			}
			perm, ok := s.permissions[permID]
			if !ok {
				continue
			}
			seen[permID] = struct{}{}
			out = append(out, perm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *Store) AssignRole(_ context.Context, userID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return false, store.ErrNotFound
	}
	return addMember(s.userRoles, userID, roleID), nil
}

func (s *Store) RevokeRole(_ context.Context, userID, roleID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeMember(s.userRoles, userID, roleID), nil
}

func (s *Store) ReplaceUserRoles(_ context.Context, userID string, roleIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, roleID := range roleIDs {
		if _, ok := s.roles[roleID]; !ok {
			return false, store.ErrNotFound
		}
	}
	return replaceMembers(s.userRoles, userID, roleIDs), nil
}

func (s *Store) AssignPermissions(_ context.Context, roleID string, permissionIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return false, store.ErrNotFound
	}
	for _, permID := range permissionIDs {
		if _, ok := s.permissions[permID]; !ok {
			return false, store.ErrNotFound
		}
	}
	changed := false
	for _, permID := range store.Dedupe(permissionIDs) {
		if addMember(s.rolePerms, roleID, permID) {
			changed = true
		}
	}
	return changed, nil
}

func (s *Store) RevokePermission(_ context.Context, roleID, permissionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeMember(s.rolePerms, roleID, permissionID), nil
}

func (s *Store) ReplaceRolePermissions(_ context.Context, roleID string, permissionIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return false, store.ErrNotFound
	}
	for _, permID := range permissionIDs {
		if _, ok := s.permissions[permID]; !ok {
			return false, store.ErrNotFound
		}
	}
	return replaceMembers(s.rolePerms, roleID, permissionIDs), nil
}

func addMember(m map[string]map[string]struct{}, owner, member string) bool {
	set, ok := m[owner]
	if !ok {
		set = make(map[string]struct{})
		m[owner] = set
	}
	if _, ok := set[member]; ok {
		return false
	}
	set[member] = struct{}{}
	return true
}

func removeMember(m map[string]map[string]struct{}, owner, member string) bool {
	set := m[owner]
	if _, ok := set[member]; !ok {
		return false
	}
	delete(set, member)
	return true
}

func replaceMembers(m map[string]map[string]struct{}, owner string, members []string) bool {
	current := make([]string, 0, len(m[owner]))
	for id := range m[owner] {
		current = append(current, id)
	}
	if store.SetEqual(current, members) {
		return false
	}
	set := make(map[string]struct{}, len(members))
	for _, id := range store.Dedupe(members) {
		set[id] = struct{}{}
	}
	m[owner] = set
	return true
}

func sortSessions(s []*store.Session) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].CreatedAt.Equal(s[j].CreatedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].CreatedAt.Before(s[j].CreatedAt)
	})
}

func cloneUser(u *store.User) *store.User {
	c := *u
	if u.AccountLockedUntil != nil {
		t := *u.AccountLockedUntil
		c.AccountLockedUntil = &t
	}
	return &c
}

func cloneSession(s *store.Session) *store.Session {
	c := *s
	if s.TerminatedAt != nil {
		t := *s.TerminatedAt
		c.TerminatedAt = &t
	}
	return &c
}
