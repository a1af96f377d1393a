package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
)

// LoggedInMember returns the member with its derived payment properties.
func (s *Service) LoggedInMember(ctx context.Context, memberID string) (domain.MemberView, error) {
	m, err := s.getMember(ctx, memberID)
	if err != nil {
		return domain.MemberView{}, err
	}
	return domain.NewMemberView(m, s.today()), nil
}

// IsPrivileged reports whether the member holds the admin or developer role.
func (s *Service) IsPrivileged(ctx context.Context, memberID string) (bool, error) {
	m, err := s.getMember(ctx, memberID)
	if err != nil {
		return false, err
	}
	return m.HasRole(domain.RoleAdmin, domain.RoleDeveloper), nil
}

// UpdateProfile validates and stores the member-editable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, memberID string, p domain.ProfileUpdate) (domain.MemberView, error) {
	p = trimProfile(p)
	if err := validateStruct(p); err != nil {
		return domain.MemberView{}, err
	}
	m, err := s.identity.UpdateProfile(ctx, memberID, p)
	if err != nil {
		return domain.MemberView{}, identityError("update profile", err)
	}
	return domain.NewMemberView(m, s.today()), nil
}

func trimProfile(p domain.ProfileUpdate) domain.ProfileUpdate {
	p.GivenName = strings.TrimSpace(p.GivenName)
	p.FamilyName = strings.TrimSpace(p.FamilyName)
	p.Address = strings.TrimSpace(p.Address)
	p.Zip = strings.TrimSpace(p.Zip)
	p.City = strings.TrimSpace(p.City)
	p.Country = strings.TrimSpace(p.Country)
	p.Phone = strings.TrimSpace(p.Phone)
	p.BirthDate = strings.TrimSpace(p.BirthDate)
	return p
}

// CreatePasswordResetTicket returns a one-time password change URL.
func (s *Service) CreatePasswordResetTicket(ctx context.Context, memberID string) (string, error) {
	if memberID == "" {
		return "", newValidationError("user_id", "is required")
	}
	ticket, err := s.identity.CreatePasswordResetTicket(ctx, memberID, s.passwordResetResultURL)
	if err != nil {
		return "", identityError("create password change ticket", err)
	}
	return ticket, nil
}

func paidFlag(p domain.PaymentProperty) string {
	return strconv.FormatBool(p.Paid)
}

func periodEndLess(f domain.Flavour) func(a, b domain.MemberView) bool {
	return func(a, b domain.MemberView) bool {
		return a.Payment(f).PeriodEnd < b.Payment(f).PeriodEnd
	}
}

// MemberColumns are the sortable and filterable columns of the admin member
// listing. They are also the export columns, in order.
var MemberColumns = []Column[domain.MemberView]{
	{Key: "user_id", Value: func(v domain.MemberView) string { return v.ID }},
	{Key: "email", Value: func(v domain.MemberView) string { return v.Email }},
	{Key: "given_name", Value: func(v domain.MemberView) string { return v.GivenName }},
	{Key: "family_name", Value: func(v domain.MemberView) string { return v.FamilyName }},
	{Key: "phone", Value: func(v domain.MemberView) string { return v.UserMetadata.Phone }},
	{Key: "address", Value: func(v domain.MemberView) string { return v.UserMetadata.Address }},
	{Key: "zip", Value: func(v domain.MemberView) string { return v.UserMetadata.Zip }},
	{Key: "city", Value: func(v domain.MemberView) string { return v.UserMetadata.City }},
	{Key: "country", Value: func(v domain.MemberView) string { return v.UserMetadata.Country }},
	{Key: "birth_date", Value: func(v domain.MemberView) string { return v.UserMetadata.BirthDate }},
	{Key: "roles", Value: func(v domain.MemberView) string { return strings.Join(v.AppMetadata.Roles, " ") }},
	{
		Key:   "created_at",
		Value: func(v domain.MemberView) string { return v.CreatedAt.UTC().Format(time.RFC3339) },
		Less:  func(a, b domain.MemberView) bool { return a.CreatedAt.Before(b.CreatedAt) },
	},
	{Key: "membership_paid", Value: func(v domain.MemberView) string { return paidFlag(v.Membership) }},
	{Key: "membership_period_end", Value: func(v domain.MemberView) string { return v.Membership.PeriodEnd }, Less: periodEndLess(domain.FlavourMembership)},
	{Key: "membership_method", Value: func(v domain.MemberView) string { return v.Membership.Method }},
	{Key: "housecard_paid", Value: func(v domain.MemberView) string { return paidFlag(v.HouseCard) }},
	{Key: "housecard_period_end", Value: func(v domain.MemberView) string { return v.HouseCard.PeriodEnd }, Less: periodEndLess(domain.FlavourHouseCard)},
	{Key: "housecard_method", Value: func(v domain.MemberView) string { return v.HouseCard.Method }},
}

func (s *Service) memberViews(ctx context.Context) ([]domain.MemberView, error) {
	members, err := s.identity.ListUsers(ctx)
	if err != nil {
		return nil, identityError("list users", err)
	}
	today := s.today()
	views := make([]domain.MemberView, 0, len(members))
	for _, m := range members {
		views = append(views, domain.NewMemberView(m, today))
	}
	return views, nil
}

// ListMembers returns every member, filtered and sorted per q.
func (s *Service) ListMembers(ctx context.Context, q ListQuery) ([]domain.MemberView, error) {
	views, err := s.memberViews(ctx)
	if err != nil {
		return nil, err
	}
	return SortFilter(views, MemberColumns, q)
}

// ExportMembers returns every member ordered by family name, then given name.
func (s *Service) ExportMembers(ctx context.Context) ([]domain.MemberView, error) {
	views, err := s.memberViews(ctx)
	if err != nil {
		return nil, err
	}
	views, err = SortFilter(views, MemberColumns, ListQuery{SortBy: "given_name"})
	if err != nil {
		return nil, err
	}
	return SortFilter(views, MemberColumns, ListQuery{SortBy: "family_name"})
}

// ManualPayment is a payment registered by an administrator, for example a
// bank transfer. Clear removes the stored payment instead.
type ManualPayment struct {
	Clear         bool    `json:"clear"`
	PeriodStart   string  `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd     string  `json:"period_end" validate:"required,datetime=2006-01-02"`
	Interval      string  `json:"interval" validate:"required,oneof=month year"`
	IntervalCount int     `json:"interval_count" validate:"required,gt=0"`
	Method        string  `json:"method" validate:"required,max=50"`
	Amount        float64 `json:"amount" validate:"gte=0"`
	Currency      string  `json:"currency" validate:"required,len=3"`
}

// UpdateManualPayment stores an administrator-entered payment for one flavour.
// Processor-backed payments are only ever written by sync.
func (s *Service) UpdateManualPayment(ctx context.Context, memberID string, f domain.Flavour, mp ManualPayment) (domain.MemberView, error) {
	if _, err := s.processor(f); err != nil {
		return domain.MemberView{}, err
	}
	today := s.today()

	var prop domain.PaymentProperty
	if mp.Clear {
		prop = domain.PaymentProperty{Flavour: f}
	} else {
		mp.Method = strings.ToLower(strings.TrimSpace(mp.Method))
		mp.Interval = strings.TrimSpace(mp.Interval)
		if err := validateStruct(mp); err != nil {
			return domain.MemberView{}, err
		}
		if mp.Method == domain.MethodStripe {
			return domain.MemberView{}, newValidationError("method", "%q is reserved for processor payments", domain.MethodStripe)
		}
		prop = domain.NewPaymentPropertyFromRecord(f, domain.PaymentRecord{
			PeriodStart:   mp.PeriodStart,
			PeriodEnd:     mp.PeriodEnd,
			Interval:      mp.Interval,
			IntervalCount: mp.IntervalCount,
			Method:        mp.Method,
			Amount:        mp.Amount,
			Currency:      mp.Currency,
		}, today)
		if prop.HasError() {
			return domain.MemberView{}, newValidationError("payment", "%s", prop.Error)
		}
	}

	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return domain.MemberView{}, err
	}
	changes := map[domain.Flavour]domain.PaymentRecord{f: prop.Record()}
	updated, err := s.identity.UpdatePayments(ctx, member.ID, mergePayments(member, changes))
	if err != nil {
		return domain.MemberView{}, identityError("update payments", err)
	}
	s.logger.Info("manual payment stored", "member_id", member.ID, "flavour", f, "cleared", mp.Clear)
	s.publishPaymentUpdated(ctx, member, prop, SourceManual)
	return domain.NewMemberView(updated, today), nil
}
