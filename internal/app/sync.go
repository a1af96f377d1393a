package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Eldsal/eldsal-sub000/internal/domain"
	"github.com/Eldsal/eldsal-sub000/pkg/identityclient"
	"github.com/Eldsal/eldsal-sub000/pkg/stripeclient"
)

// Sources recorded on published payment events.
const (
	SourceSync   = "sync"
	SourceManual = "manual"
)

// SyncResult is the outcome of reconciling one member.
type SyncResult struct {
	MemberID string                                     `json:"member_id"`
	Email    string                                     `json:"email"`
	Updated  map[domain.Flavour]bool                    `json:"updated"`
	Payments map[domain.Flavour]domain.PaymentProperty `json:"payments"`
}

// AnyUpdated reports whether a write was made for the member.
func (r SyncResult) AnyUpdated() bool {
	for _, updated := range r.Updated {
		if updated {
			return true
		}
	}
	return false
}

// SyncFailure records a member that could not be reconciled in a batch run.
type SyncFailure struct {
	MemberID string `json:"member_id"`
	Email    string `json:"email"`
	Error    string `json:"error"`
}

// SyncReport summarises a batch run.
type SyncReport struct {
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
	Members        int           `json:"members"`
	Updated        int           `json:"updated"`
	DummyCustomers int           `json:"dummy_customers"`
	Results        []SyncResult  `json:"results"`
	Failures       []SyncFailure `json:"failures"`
}

// ShouldUpdate decides whether the candidate derived from the processor
// replaces the stored payment property.
//
// A candidate in error state never replaces anything. If the stored property
// is not paid, a paid candidate wins, and an unpaid candidate wins only when
// its period end is later than the stored one (or nothing is stored). If the
// stored property is paid through the processor, any difference in paid flag,
// period bounds, interval, interval count, method or amount wins; currency is
// not compared. A paid property with another method is only replaced by a paid
// candidate that reaches further.
func ShouldUpdate(stored, candidate domain.PaymentProperty) bool {
	if candidate.HasError() {
		return false
	}

	if !stored.Paid {
		if candidate.Paid {
			return true
		}
		if candidate.PeriodEnd == stored.PeriodEnd {
			return false
		}
		return endsLater(candidate, stored)
	}

	if stored.Method == domain.MethodStripe {
		return paymentFieldsDiffer(stored, candidate)
	}

	if !candidate.Paid {
		return false
	}
	return endsLater(candidate, stored)
}

// endsLater reports whether a has a period end after b's. A missing end on b
// counts as earlier than any date.
func endsLater(a, b domain.PaymentProperty) bool {
	aEnd, ok := a.PeriodEndDate()
	if !ok {
		return false
	}
	bEnd, ok := b.PeriodEndDate()
	if !ok {
		return true
	}
	return aEnd.After(bEnd)
}

func paymentFieldsDiffer(a, b domain.PaymentProperty) bool {
	return a.Paid != b.Paid ||
		a.PeriodStart != b.PeriodStart ||
		a.PeriodEnd != b.PeriodEnd ||
		a.Interval != b.Interval ||
		a.IntervalCount != b.IntervalCount ||
		a.Method != b.Method ||
		a.Amount != b.Amount
}

// pickLatest returns the subscription with the latest period end. Ties go to
// the lexicographically highest subscription id so repeated runs agree.
func pickLatest(subs []domain.Subscription) *domain.Subscription {
	var best *domain.Subscription
	for i := range subs {
		sub := &subs[i]
		if !countsTowardsPayment(*sub) {
			continue
		}
		if best == nil ||
			sub.PeriodEnd.After(best.PeriodEnd) ||
			(sub.PeriodEnd.Equal(best.PeriodEnd) && sub.ID > best.ID) {
			best = sub
		}
	}
	return best
}

// countsTowardsPayment drops subscriptions whose first invoice never went
// through.
func countsTowardsPayment(sub domain.Subscription) bool {
	switch sub.Status {
	case "incomplete", "incomplete_expired":
		return false
	}
	return !sub.PeriodStart.IsZero() && !sub.PeriodEnd.IsZero()
}

// SyncMember reconciles one member's stored payments with the processor.
// Nothing is written unless every processor read succeeded.
func (s *Service) SyncMember(ctx context.Context, memberID string) (SyncResult, error) {
	member, err := s.getMember(ctx, memberID)
	if err != nil {
		return SyncResult{}, err
	}
	bundle, err := s.memberBundle(ctx, member)
	if err != nil {
		s.metrics.observeSyncError()
		return SyncResult{}, err
	}
	return s.reconcile(ctx, bundle)
}

// memberBundle collects the member's customers and subscriptions from every
// processor account. Customers are assigned by the same rule as a batch run
// so both paths reach the same decision for a member.
func (s *Service) memberBundle(ctx context.Context, member domain.Member) (*domain.MemberSubscriptions, error) {
	bundle := domain.NewMemberSubscriptions(member, false)
	known := s.memberExists(ctx, member.ID)
	for _, f := range domain.Flavours {
		customers, subs, err := s.flavourCustomers(ctx, f, member, known)
		if err != nil {
			return nil, err
		}
		bundle.Customers[f] = customers
		bundle.Subscriptions[f] = subs
	}
	return bundle, nil
}

// flavourCustomers finds the customers of one account that belong to the
// member: those tagged with the member id, those owning a tagged
// subscription, and those sharing the member's email. Each candidate is then
// checked with customerOwner.
func (s *Service) flavourCustomers(ctx context.Context, f domain.Flavour, member domain.Member, known func(string) (bool, error)) ([]domain.Customer, []domain.Subscription, error) {
	p, err := s.processor(f)
	if err != nil {
		return nil, nil, err
	}

	var candidates []domain.Customer
	seen := make(map[string]bool)
	add := func(cs ...domain.Customer) {
		for _, c := range cs {
			if !seen[c.ID] {
				seen[c.ID] = true
				candidates = append(candidates, c)
			}
		}
	}

	tagged, err := p.SearchCustomersByMember(ctx, member.ID)
	if err != nil {
		return nil, nil, processorError(f, "search customers", err)
	}
	add(tagged...)

	taggedSubs, err := p.SearchSubscriptionsByMember(ctx, member.ID)
	if err != nil {
		return nil, nil, processorError(f, "search subscriptions", err)
	}
	for _, sub := range taggedSubs {
		if sub.CustomerID == "" || seen[sub.CustomerID] {
			continue
		}
		c, err := p.GetCustomer(ctx, sub.CustomerID)
		if errors.Is(err, stripeclient.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, processorError(f, "get customer", err)
		}
		add(c)
	}

	if strings.TrimSpace(member.Email) != "" {
		byEmail, err := p.FindCustomers(ctx, member.Email)
		if err != nil {
			return nil, nil, processorError(f, "find customers", err)
		}
		add(byEmail...)
	}

	var customers []domain.Customer
	var subscriptions []domain.Subscription
	for _, c := range candidates {
		subs, err := p.ListSubscriptions(ctx, c.ID)
		if err != nil {
			return nil, nil, processorError(f, "list subscriptions", err)
		}
		owner, err := customerOwner(c, subs, known)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case owner == member.ID:
		case owner == "" && emailMatches(c.Email, member.Email):
		default:
			continue
		}
		customers = append(customers, c)
		subscriptions = append(subscriptions, subs...)
	}
	return customers, subscriptions, nil
}

// memberExists reports whether a member id belongs to a member, asking the
// identity provider for ids other than self. Answers are cached per call.
func (s *Service) memberExists(ctx context.Context, self string) func(string) (bool, error) {
	cache := map[string]bool{self: true}
	return func(id string) (bool, error) {
		if exists, ok := cache[id]; ok {
			return exists, nil
		}
		_, err := s.identity.GetUser(ctx, id)
		switch {
		case err == nil:
			cache[id] = true
		case errors.Is(err, identityclient.ErrUserNotFound):
			cache[id] = false
		default:
			return false, identityError("get user", err)
		}
		return cache[id], nil
	}
}

// reconcile decides per flavour and writes the merged payments once.
func (s *Service) reconcile(ctx context.Context, bundle *domain.MemberSubscriptions) (SyncResult, error) {
	member := bundle.Member
	today := s.today()
	result := SyncResult{
		MemberID: member.ID,
		Email:    member.Email,
		Updated:  make(map[domain.Flavour]bool, len(domain.Flavours)),
		Payments: make(map[domain.Flavour]domain.PaymentProperty, len(domain.Flavours)),
	}

	changes := make(map[domain.Flavour]domain.PaymentRecord)
	for _, f := range domain.Flavours {
		stored := member.StoredPayment(f, today)
		candidate := domain.NewPaymentPropertyFromSubscription(f, pickLatest(bundle.Subscriptions[f]), today)
		if stored.HasError() {
			s.logger.Warn("stored payment is malformed", "member_id", member.ID, "flavour", f, "error", stored.Error)
		}
		if candidate.HasError() {
			s.logger.Warn("subscription cannot be mapped to a payment", "member_id", member.ID, "flavour", f, "error", candidate.Error)
		}

		update := ShouldUpdate(stored, candidate)
		s.metrics.observeDecision(f, update)
		result.Updated[f] = update
		if update {
			changes[f] = candidate.Record()
			result.Payments[f] = candidate
		} else {
			result.Payments[f] = stored
		}
	}

	if len(changes) == 0 {
		return result, nil
	}

	if _, err := s.identity.UpdatePayments(ctx, member.ID, mergePayments(member, changes)); err != nil {
		s.metrics.observeSyncError()
		return result, identityError("update payments", err)
	}
	s.logger.Info("member payments updated", "member_id", member.ID, "flavours", changedFlavours(changes))
	for _, f := range domain.Flavours {
		if result.Updated[f] {
			s.publishPaymentUpdated(ctx, member, result.Payments[f], SourceSync)
		}
	}
	return result, nil
}

func changedFlavours(changes map[domain.Flavour]domain.PaymentRecord) []string {
	var out []string
	for _, f := range domain.Flavours {
		if _, ok := changes[f]; ok {
			out = append(out, string(f))
		}
	}
	return out
}

// SyncAll reconciles every member, one at a time. A failure for one member
// is recorded in the report and the run continues.
func (s *Service) SyncAll(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{StartedAt: s.now().UTC()}

	bundles, err := s.collectBundles(ctx)
	if err != nil {
		s.metrics.observeRun("failed")
		return nil, err
	}

	first := true
	for _, bundle := range bundles {
		if bundle.Dummy {
			report.DummyCustomers++
			continue
		}
		if !first && s.memberDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.memberDelay):
			}
		}
		first = false
		if err := ctx.Err(); err != nil {
			s.metrics.observeRun("cancelled")
			report.FinishedAt = s.now().UTC()
			return report, err
		}

		report.Members++
		result, err := s.reconcile(ctx, bundle)
		if err != nil {
			s.logger.Error("member sync failed", "member_id", bundle.Member.ID, "error", err)
			report.Failures = append(report.Failures, SyncFailure{
				MemberID: bundle.Member.ID,
				Email:    bundle.Member.Email,
				Error:    err.Error(),
			})
			continue
		}
		if result.AnyUpdated() {
			report.Updated++
		}
		report.Results = append(report.Results, result)
	}

	report.FinishedAt = s.now().UTC()
	s.metrics.observeRun("completed")
	return report, nil
}

// collectBundles joins every member with every processor customer. Customers
// are matched on the member id stored in processor metadata first, then on
// email. Customers matching nobody become dummy bundles, one per email.
func (s *Service) collectBundles(ctx context.Context) ([]*domain.MemberSubscriptions, error) {
	members, err := s.identity.ListUsers(ctx)
	if err != nil {
		return nil, identityError("list users", err)
	}

	bundles := make([]*domain.MemberSubscriptions, 0, len(members))
	byID := make(map[string]*domain.MemberSubscriptions, len(members))
	byEmail := make(map[string]*domain.MemberSubscriptions, len(members))
	for _, m := range members {
		b := domain.NewMemberSubscriptions(m, false)
		bundles = append(bundles, b)
		byID[m.ID] = b
		if email := normalizeEmail(m.Email); email != "" {
			if _, taken := byEmail[email]; !taken {
				byEmail[email] = b
			}
		}
	}

	dummies := make(map[string]*domain.MemberSubscriptions)
	for _, f := range domain.Flavours {
		p, err := s.processor(f)
		if err != nil {
			return nil, err
		}
		customers, err := p.ListCustomers(ctx)
		if err != nil {
			return nil, processorError(f, "list customers", err)
		}
		subs, err := p.ListSubscriptions(ctx, "")
		if err != nil {
			return nil, processorError(f, "list subscriptions", err)
		}
		subsByCustomer := make(map[string][]domain.Subscription)
		for _, sub := range subs {
			subsByCustomer[sub.CustomerID] = append(subsByCustomer[sub.CustomerID], sub)
		}

		for _, c := range customers {
			b := matchCustomer(c, subsByCustomer[c.ID], byID, byEmail)
			if b == nil {
				key := normalizeEmail(c.Email)
				if key == "" {
					key = c.ID
				}
				b = dummies[key]
				if b == nil {
					b = domain.NewMemberSubscriptions(domain.Member{Email: c.Email, Name: c.Name}, true)
					dummies[key] = b
					bundles = append(bundles, b)
				}
			}
			b.Customers[f] = append(b.Customers[f], c)
			b.Subscriptions[f] = append(b.Subscriptions[f], subsByCustomer[c.ID]...)
		}
	}
	return bundles, nil
}

func matchCustomer(c domain.Customer, subs []domain.Subscription, byID, byEmail map[string]*domain.MemberSubscriptions) *domain.MemberSubscriptions {
	owner, _ := customerOwner(c, subs, func(id string) (bool, error) {
		_, ok := byID[id]
		return ok, nil
	})
	if owner != "" {
		return byID[owner]
	}
	if email := normalizeEmail(c.Email); email != "" {
		return byEmail[email]
	}
	return nil
}

// customerOwner returns the member a customer is tagged to: the member id on
// the customer, else the first one on its subscriptions. Ids that belong to
// no member are skipped. An empty result means the customer is matched by
// email.
func customerOwner(c domain.Customer, subs []domain.Subscription, known func(string) (bool, error)) (string, error) {
	ids := make([]string, 0, len(subs)+1)
	ids = append(ids, c.MemberID)
	for _, sub := range subs {
		ids = append(ids, sub.MemberID)
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		ok, err := known(id)
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
	}
	return "", nil
}

func emailMatches(a, b string) bool {
	a = normalizeEmail(a)
	return a != "" && a == normalizeEmail(b)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AllSubscriptions returns every member bundle, dummy customers included,
// with product names filled in.
func (s *Service) AllSubscriptions(ctx context.Context) ([]*domain.MemberSubscriptions, error) {
	bundles, err := s.collectBundles(ctx)
	if err != nil {
		return nil, err
	}
	names, err := s.productNames(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range bundles {
		fillProductNames(b, names)
	}
	return bundles, nil
}

func (s *Service) productNames(ctx context.Context) (map[domain.Flavour]map[string]string, error) {
	out := make(map[domain.Flavour]map[string]string, len(domain.Flavours))
	for _, f := range domain.Flavours {
		p, err := s.processor(f)
		if err != nil {
			return nil, err
		}
		products, err := p.ListProducts(ctx)
		if err != nil {
			return nil, processorError(f, "list products", err)
		}
		names := make(map[string]string, len(products))
		for _, prod := range products {
			names[prod.ID] = prod.Name
		}
		out[f] = names
	}
	return out, nil
}

func fillProductNames(b *domain.MemberSubscriptions, names map[domain.Flavour]map[string]string) {
	for f, subs := range b.Subscriptions {
		for i := range subs {
			if subs[i].ProductName == "" {
				subs[i].ProductName = names[f][subs[i].ProductID]
			}
		}
	}
}

func describeSyncFailure(f SyncFailure) string {
	if f.Email == "" {
		return fmt.Sprintf("%s: %s", f.MemberID, f.Error)
	}
	return fmt.Sprintf("%s <%s>: %s", f.MemberID, f.Email, f.Error)
}
