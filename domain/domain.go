// Package domain holds the recycling back-office entities exchanged with the
// API and the validation schema each one declares.
//
// Ids are server-assigned UUID strings. References between entities
// (a Collection's BusinessID, CollectorID and ProductID) are weak: nothing
// here checks that the referenced record exists. Lists requested with
// includeBusiness, includeCollector or includeProduct carry the referenced
// entity inline.
package domain

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Resource names as they appear in /api/{resource}.
const (
	ResourceBusinesses  = "businesses"
	ResourceCollectors  = "collectors"
	ResourceProducts    = "products"
	ResourceCollections = "collections"
	ResourceUsers       = "users"
	ResourceStaff       = "staff"
)

// Entity is implemented by every resource type.
type Entity interface {
	GetID() string
	Validate() error
}

// Role is a user role. Roles only drive what the client shows; the server
// enforces access on its own.
type Role string

const (
	RoleSystemAdmin Role = "system_admin"
	RoleAdmin       Role = "admin"
	RoleStaff       Role = "staff"
	RoleBusiness    Role = "business"
	RoleCollector   Role = "collector"
)

// Roles lists every known role, most privileged first.
var Roles = []Role{RoleSystemAdmin, RoleAdmin, RoleStaff, RoleBusiness, RoleCollector}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Business types accepted by the API.
const (
	BusinessTypeRecycler     = "Recycler"
	BusinessTypeCollector    = "Collector"
	BusinessTypeBuyer        = "Buyer"
	BusinessTypeManufacturer = "Manufacturer"
)

var businessTypes = []any{
	BusinessTypeRecycler,
	BusinessTypeCollector,
	BusinessTypeBuyer,
	BusinessTypeManufacturer,
}

// Address is embedded in businesses.
type Address struct {
	LineOne  string `json:"lineOne" msgpack:"lineOne"`
	LineTwo  string `json:"lineTwo,omitempty" msgpack:"lineTwo"`
	City     string `json:"city" msgpack:"city"`
	Province string `json:"province" msgpack:"province"`
	ZipCode  string `json:"zipCode" msgpack:"zipCode"`
}

func (a Address) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.LineOne, validation.Length(0, 200)),
		validation.Field(&a.City, validation.Length(0, 100)),
		validation.Field(&a.Province, validation.Length(0, 100)),
		validation.Field(&a.ZipCode, validation.Length(0, 10), is.Digit),
	)
}

// BankDetails is where collectors are paid.
type BankDetails struct {
	AccountHolder string `json:"accountHolder" msgpack:"accountHolder"`
	AccountNumber string `json:"accountNumber" msgpack:"accountNumber"`
	BankName      string `json:"bankName" msgpack:"bankName"`
	BranchCode    string `json:"branchCode" msgpack:"branchCode"`
}

func (b BankDetails) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.AccountHolder, validation.Length(0, 100)),
		validation.Field(&b.AccountNumber, validation.Length(0, 20), is.Digit),
		validation.Field(&b.BankName, validation.Length(0, 100)),
		validation.Field(&b.BranchCode, validation.Length(0, 10), is.Digit),
	)
}

type Business struct {
	ID          string     `json:"id,omitempty" msgpack:"id"`
	Name        string     `json:"name" msgpack:"name"`
	Type        string     `json:"type" msgpack:"type"`
	Description string     `json:"description,omitempty" msgpack:"description"`
	PhoneNumber string     `json:"phoneNumber,omitempty" msgpack:"phoneNumber"`
	Address     Address    `json:"address" msgpack:"address"`
	OwnerID     string     `json:"ownerId,omitempty" msgpack:"ownerId"`
	CreatedAt   *time.Time `json:"createdAt,omitempty" msgpack:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty" msgpack:"updatedAt"`
}

func (b Business) GetID() string { return b.ID }

func (b Business) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&b.Type, validation.Required, validation.In(businessTypes...)),
		validation.Field(&b.Description, validation.Length(0, 500)),
		validation.Field(&b.PhoneNumber, validation.Length(0, 20)),
		validation.Field(&b.Address),
		validation.Field(&b.OwnerID, is.UUID),
	)
}

type Collector struct {
	ID          string      `json:"id,omitempty" msgpack:"id"`
	FirstName   string      `json:"firstName" msgpack:"firstName"`
	LastName    string      `json:"lastName" msgpack:"lastName"`
	IDNumber    string      `json:"idNumber" msgpack:"idNumber"`
	PhoneNumber string      `json:"phoneNumber,omitempty" msgpack:"phoneNumber"`
	BusinessID  string      `json:"businessId,omitempty" msgpack:"businessId"`
	BankDetails BankDetails `json:"bankDetails" msgpack:"bankDetails"`
	CreatedAt   *time.Time  `json:"createdAt,omitempty" msgpack:"createdAt"`
	UpdatedAt   *time.Time  `json:"updatedAt,omitempty" msgpack:"updatedAt"`
}

func (c Collector) GetID() string { return c.ID }

// FullName is the collector's display name.
func (c Collector) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}

func (c Collector) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&c.LastName, validation.Required, validation.Length(1, 100)),
		// South African ID numbers are 13 digits.
		validation.Field(&c.IDNumber, validation.Required, validation.Length(13, 13), is.Digit),
		validation.Field(&c.PhoneNumber, validation.Length(0, 20)),
		validation.Field(&c.BusinessID, is.UUID),
		validation.Field(&c.BankDetails),
	)
}

type Product struct {
	ID        string     `json:"id,omitempty" msgpack:"id"`
	Name      string     `json:"name" msgpack:"name"`
	GWCode    string     `json:"gwCode,omitempty" msgpack:"gwCode"`
	Price     float64    `json:"price" msgpack:"price"`
	CreatedAt *time.Time `json:"createdAt,omitempty" msgpack:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty" msgpack:"updatedAt"`
}

func (p Product) GetID() string { return p.ID }

func (p Product) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&p.GWCode, validation.Length(0, 20)),
		validation.Field(&p.Price, validation.Min(0.0)),
	)
}

// Collection is one weighed pickup of a product from a collector by a business.
type Collection struct {
	ID          string     `json:"id,omitempty" msgpack:"id"`
	BusinessID  string     `json:"businessId" msgpack:"businessId"`
	CollectorID string     `json:"collectorId" msgpack:"collectorId"`
	ProductID   string     `json:"productId" msgpack:"productId"`
	Weight      float64    `json:"weight" msgpack:"weight"`
	Value       float64    `json:"value,omitempty" msgpack:"value"`
	CreatedAt   *time.Time `json:"createdAt,omitempty" msgpack:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty" msgpack:"updatedAt"`

	Business  *Business  `json:"business,omitempty" msgpack:"business"`
	Collector *Collector `json:"collector,omitempty" msgpack:"collector"`
	Product   *Product   `json:"product,omitempty" msgpack:"product"`
}

func (c Collection) GetID() string { return c.ID }

func (c Collection) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BusinessID, validation.Required, is.UUID),
		validation.Field(&c.CollectorID, validation.Required, is.UUID),
		validation.Field(&c.ProductID, validation.Required, is.UUID),
		// Required rejects zero; Min rejects negatives.
		validation.Field(&c.Weight, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&c.Value, validation.Min(0.0)),
	)
}

type User struct {
	ID          string     `json:"id,omitempty" msgpack:"id"`
	Name        string     `json:"name" msgpack:"name"`
	Email       string     `json:"email" msgpack:"email"`
	PhoneNumber string     `json:"phoneNumber,omitempty" msgpack:"phoneNumber"`
	Role        Role       `json:"role" msgpack:"role"`
	BusinessID  string     `json:"businessId,omitempty" msgpack:"businessId"`
	MFAEnabled  bool       `json:"mfaEnabled" msgpack:"mfaEnabled"`
	MFAVerified bool       `json:"mfaVerified" msgpack:"mfaVerified"`
	CreatedAt   *time.Time `json:"createdAt,omitempty" msgpack:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty" msgpack:"updatedAt"`
}

func (u User) GetID() string { return u.ID }

func (u User) Validate() error {
	return validation.ValidateStruct(&u,
		validation.Field(&u.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&u.Email, validation.Required, is.EmailFormat),
		validation.Field(&u.PhoneNumber, validation.Length(0, 20)),
		validation.Field(&u.Role, validation.Required, validation.By(validRole)),
		validation.Field(&u.BusinessID, is.UUID),
	)
}

// Staff is a user working for a business, managed under /api/staff.
type Staff struct {
	ID          string     `json:"id,omitempty" msgpack:"id"`
	Name        string     `json:"name" msgpack:"name"`
	Email       string     `json:"email" msgpack:"email"`
	PhoneNumber string     `json:"phoneNumber,omitempty" msgpack:"phoneNumber"`
	BusinessID  string     `json:"businessId" msgpack:"businessId"`
	Position    string     `json:"position,omitempty" msgpack:"position"`
	CreatedAt   *time.Time `json:"createdAt,omitempty" msgpack:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty" msgpack:"updatedAt"`
}

func (s Staff) GetID() string { return s.ID }

func (s Staff) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&s.Email, validation.Required, is.EmailFormat),
		validation.Field(&s.PhoneNumber, validation.Length(0, 20)),
		validation.Field(&s.BusinessID, validation.Required, is.UUID),
		validation.Field(&s.Position, validation.Length(0, 100)),
	)
}

func validRole(value any) error {
	role, _ := value.(Role)
	if !role.Valid() {
		return validation.NewError("validation_invalid_role", "must be a known role")
	}
	return nil
}

// Label is the text a list row shows and filters on.
func (b Business) Label() string { return strings.TrimSpace(b.Name + " " + b.Type) }

func (c Collector) Label() string { return strings.TrimSpace(c.FullName() + " " + c.IDNumber) }

func (p Product) Label() string { return strings.TrimSpace(p.Name + " " + p.GWCode) }

func (c Collection) Label() string {
	parts := make([]string, 0, 3)
	if c.Collector != nil {
		parts = append(parts, c.Collector.FullName())
	}
	if c.Product != nil {
		parts = append(parts, c.Product.Name)
	}
	if c.Business != nil {
		parts = append(parts, c.Business.Name)
	}
	if len(parts) == 0 {
		return c.ID
	}
	return strings.Join(parts, " ")
}

func (u User) Label() string { return strings.TrimSpace(u.Name + " " + u.Email) }

func (s Staff) Label() string { return strings.TrimSpace(s.Name + " " + s.Email) }
