package registration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hitoshi/mapapp/internal/identity"
	"github.com/hitoshi/mapapp/internal/model"
)

// fakeIDP はメモリ上のIDプロバイダー。
type fakeIDP struct {
	mu             sync.Mutex
	users          map[string]*model.IdentityUser
	tokens         map[string]string // userID -> token
	externalLogins map[string]string // provider:key -> userID
	requireConfirm bool
	nextID         int
	signedIn       []string
	deleted        []string
	tokenErr       error
	deleteErr      error
	signInErr      error
	createExtErr   error
}

func newFakeIDP() *fakeIDP {
	return &fakeIDP{
		users:          map[string]*model.IdentityUser{},
		tokens:         map[string]string{},
		externalLogins: map[string]string{},
	}
}

func (f *fakeIDP) CreateUser(_ context.Context, email, password string) (*model.IdentityUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var errs identity.Errors
	for _, u := range f.users {
		if strings.EqualFold(u.Email, email) {
			errs = append(errs,
				identity.Error{Code: identity.CodeDuplicateUserName, Description: fmt.Sprintf("Username '%s' is already taken.", email)},
				identity.Error{Code: identity.CodeDuplicateEmail, Description: fmt.Sprintf("Email '%s' is already taken.", email)},
			)
		}
	}
	errs = append(errs, identity.DefaultPasswordPolicy().Validate(password)...)
	if len(errs) > 0 {
		return nil, errs
	}
	f.nextID++
	u := &model.IdentityUser{ID: fmt.Sprintf("user-%d", f.nextID), UserName: email, Email: email}
	f.users[u.ID] = u
	return u, nil
}

func (f *fakeIDP) GenerateEmailConfirmationToken(_ context.Context, userID string) (string, error) {
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	// '+' '/' '=' を含め、URLエンコードが必要な値にする
	token := "CfDJ8+token/for=" + userID
	f.mu.Lock()
	f.tokens[userID] = token
	f.mu.Unlock()
	return token, nil
}

func (f *fakeIDP) DeleteUser(_ context.Context, userID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, userID)
	f.deleted = append(f.deleted, userID)
	return nil
}

func (f *fakeIDP) SignIn(_ context.Context, userID string, persistent bool) (*model.Session, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	f.mu.Lock()
	f.signedIn = append(f.signedIn, userID)
	f.mu.Unlock()
	return &model.Session{ID: "session-" + userID, UserID: userID, Persistent: persistent}, nil
}

func (f *fakeIDP) RequireConfirmedAccount() bool { return f.requireConfirm }

func (f *fakeIDP) FindByExternalLogin(_ context.Context, info *identity.ExternalLoginInfo) (*model.IdentityUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.externalLogins[info.Provider+":"+info.ProviderKey]; ok {
		return f.users[id], nil
	}
	return nil, nil
}

func (f *fakeIDP) CreateExternalUser(_ context.Context, info *identity.ExternalLoginInfo) (*model.IdentityUser, error) {
	if f.createExtErr != nil {
		return nil, f.createExtErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	u := &model.IdentityUser{ID: fmt.Sprintf("user-%d", f.nextID), Email: info.Email, EmailConfirmed: true}
	f.users[u.ID] = u
	f.externalLogins[info.Provider+":"+info.ProviderKey] = u.ID
	return u, nil
}

// fakeProfiles はメモリ上のProfileStore。CreateWithOutboundEmailは全か無かで保存する。
type fakeProfiles struct {
	mu        sync.Mutex
	idp       *fakeIDP
	profiles  map[string]*model.MapAppUser
	emails    []*model.OutboundEmail
	createErr error
}

func newFakeProfiles(idp *fakeIDP) *fakeProfiles {
	return &fakeProfiles{idp: idp, profiles: map[string]*model.MapAppUser{}}
}

func (f *fakeProfiles) Create(_ context.Context, p *model.MapAppUser) error {
	if f.createErr != nil {
		return f.createErr
	}
	return f.insert(p)
}

func (f *fakeProfiles) insert(p *model.MapAppUser) error {
	f.idp.mu.Lock()
	_, ok := f.idp.users[p.AspnetIdentityID]
	f.idp.mu.Unlock()
	if !ok {
		return fmt.Errorf("foreign key violation: %s", p.AspnetIdentityID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, dup := f.profiles[p.AspnetIdentityID]; dup {
		return fmt.Errorf("duplicate profile")
	}
	p.ID = int64(len(f.profiles) + 1)
	f.profiles[p.AspnetIdentityID] = p
	return nil
}

func (f *fakeProfiles) CreateWithOutboundEmail(_ context.Context, p *model.MapAppUser, email *model.OutboundEmail) error {
	if f.createErr != nil {
		return f.createErr
	}
	if err := f.insert(p); err != nil {
		return err
	}
	f.mu.Lock()
	f.emails = append(f.emails, email)
	f.mu.Unlock()
	return nil
}

func (f *fakeProfiles) FindByIdentityID(_ context.Context, identityID string) (*model.MapAppUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.profiles[identityID], nil
}

var (
	_ IdentityProvider = (*fakeIDP)(nil)
	_ ProfileStore     = (*fakeProfiles)(nil)
)
