package media

import (
	"slices"
	"strings"
	"sync"

	"reelkit.io/reelkit/internal/persistence"
	apperrors "reelkit.io/reelkit/internal/pkg/errors"
)

// Account statuses. Disabled accounts keep their row but serve no platform.
const (
	AccountActive   persistence.Status = "ACTIVE"
	AccountDisabled persistence.Status = "DISABLED"
)

// AccountStatuses is the Account enumeration.
var AccountStatuses = persistence.NewStatusSet(AccountActive, AccountActive, AccountDisabled)

// Account is a publishing identity. Its id is the account uniquename.
type Account struct {
	persistence.Record
	Name      string   `db:"name"`
	Email     string   `db:"email"`
	Platforms []string `db:"platforms"`
}

// Uniquename returns the account key.
func (a *Account) Uniquename() string { return a.ID() }

// SetPlatforms stores the known platforms among names, lower-cased.
func (a *Account) SetPlatforms(names []string) {
	a.Platforms = normalizePlatforms(names)
}

const unsafeAccountChars = " %&?#[]{}<>\\^`\"'|@:+,;="

// ValidateAccountName rejects names that cannot be embedded in file names
// and URLs.
func ValidateAccountName(name string) error {
	if strings.ContainsAny(name, unsafeAccountChars) {
		return apperrors.BadRequest(apperrors.CodeInvalidAccount, "unsafe account name: "+name).
			WithParams(map[string]interface{}{"account": name})
	}
	return nil
}

// Directory resolves which platforms each active account publishes to. It is
// an in-memory view of the Account table, rebuilt by Library.ReloadAccounts.
type Directory struct {
	mu        sync.RWMutex
	order     []string
	platforms map[string][]string
}

// NewDirectory builds a directory from accounts, in order. Disabled accounts
// are skipped.
func NewDirectory(accounts ...*Account) *Directory {
	d := &Directory{}
	d.reset(accounts)
	return d
}

func (d *Directory) reset(accounts []*Account) {
	order := make([]string, 0, len(accounts))
	platforms := make(map[string][]string, len(accounts))
	for _, a := range accounts {
		if a.Status() == AccountDisabled {
			continue
		}
		order = append(order, a.ID())
		platforms[a.ID()] = slices.Clone(a.Platforms)
	}
	d.mu.Lock()
	d.order = order
	d.platforms = platforms
	d.mu.Unlock()
}

func (d *Directory) put(a *Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if a.Status() == AccountDisabled {
		d.removeLocked(a.ID())
		return
	}
	if _, ok := d.platforms[a.ID()]; !ok {
		d.order = append(d.order, a.ID())
	}
	d.platforms[a.ID()] = slices.Clone(a.Platforms)
}

func (d *Directory) remove(uniquename string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(uniquename)
}

func (d *Directory) removeLocked(uniquename string) {
	delete(d.platforms, uniquename)
	d.order = slices.DeleteFunc(d.order, func(s string) bool { return s == uniquename })
}

// Accounts returns the account uniquenames in selection order.
func (d *Directory) Accounts() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.order)
}

// Uploaders returns the platforms account publishes to.
func (d *Directory) Uploaders(account string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.platforms[account])
}

// Platforms returns every platform served by at least one account, sorted.
func (d *Directory) Platforms() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []string
	for _, ps := range d.platforms {
		for _, p := range ps {
			if !slices.Contains(out, p) {
				out = append(out, p)
			}
		}
	}
	slices.Sort(out)
	return out
}

// HasPlatform reports whether some account serves platform.
func (d *Directory) HasPlatform(platform string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, ps := range d.platforms {
		if slices.Contains(ps, platform) {
			return true
		}
	}
	return false
}

// Select returns the named account, or the first one when uniquename is
// empty, and moves it to the back of the selection order.
func (d *Directory) Select(uniquename string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.order) == 0 {
		return "", apperrors.NotFound(apperrors.CodeInvalidAccount, "no account to select from")
	}
	i := 0
	if uniquename != "" {
		i = slices.Index(d.order, uniquename)
		if i < 0 {
			return "", apperrors.ErrEntityNotFoundf("Account", uniquename)
		}
	}
	name := d.order[i]
	d.order = append(slices.Delete(d.order, i, i+1), name)
	return name, nil
}
