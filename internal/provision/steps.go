package provision

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/obs"
	"pgmanage.org/internal/session"
)

// Step names one state of a flow.
type Step string

const (
	StepValidate        Step = "validate"
	StepCreateAccount   Step = "create_account"
	StepAuthenticate    Step = "authenticate"
	StepResolveIdentity Step = "resolve_identity"
	StepReconcileTenant Step = "reconcile_tenant"
	StepLookupTenant    Step = "lookup_tenant"
	StepFinalize        Step = "finalize"
	StepDone            Step = "done"
)

// outcome is the value threaded through one attempt. It is never persisted.
type outcome struct {
	attemptID string
	flow      string
	req       Request
	link      *LinkRequest

	accountCreated bool
	registeredID   int64
	loginRole      string
	userRole       string
	role           session.Role
	userID         int64
	tenantID       int64
	tenantLinked   bool

	session session.Session
}

func (o *outcome) fail(kind Kind, step Step, msg string, err error) *Error {
	return &Error{
		Kind:           kind,
		Step:           step,
		Message:        msg,
		UserID:         o.userID,
		AccountCreated: o.accountCreated,
		Err:            err,
	}
}

// stage is one transition. It reports StatusOK or StatusSkipped on success.
type stage struct {
	step Step
	run  func(p *Provisioner, ctx context.Context, o *outcome) (string, error)
}

var (
	registerFlow = []stage{
		{StepValidate, (*Provisioner).validateRegistration},
		{StepCreateAccount, (*Provisioner).createAccount},
		{StepAuthenticate, (*Provisioner).authenticate},
		{StepResolveIdentity, (*Provisioner).resolveIdentity},
		{StepReconcileTenant, (*Provisioner).reconcileTenant},
		{StepFinalize, (*Provisioner).finalize},
	}
	loginFlow = []stage{
		{StepValidate, (*Provisioner).validateLogin},
		{StepAuthenticate, (*Provisioner).authenticate},
		{StepResolveIdentity, (*Provisioner).resolveIdentity},
		{StepLookupTenant, (*Provisioner).lookupTenant},
		{StepFinalize, (*Provisioner).finalize},
	}
	linkFlow = []stage{
		{StepValidate, (*Provisioner).validateLink},
		{StepReconcileTenant, (*Provisioner).reconcileTenant},
		{StepFinalize, (*Provisioner).finalize},
	}
)

func (p *Provisioner) run(ctx context.Context, o *outcome, stages []stage) (session.Session, error) {
	for _, st := range stages {
		// A caller that stopped listening gets no further effects, whatever
		// the previous call returned.
		if err := ctx.Err(); err != nil {
			return session.Session{}, p.abandoned(o, st.step, err)
		}
		if err := p.runStage(ctx, o, st); err != nil {
			return session.Session{}, err
		}
	}
	return o.session, nil
}

func (p *Provisioner) runStage(ctx context.Context, o *outcome, st stage) error {
	ctx, span := obs.Tracer().Start(ctx, "provision."+string(st.step))
	defer span.End()
	span.SetAttributes(
		attribute.String("provision.attempt_id", o.attemptID),
		attribute.String("provision.flow", o.flow),
	)

	p.emit(o, st.step, StatusStarted, "")
	status, err := st.run(p, ctx, o)
	if err != nil {
		var pe *Error
		if !errors.As(err, &pe) {
			pe = o.fail(KindTransport, st.step, "unexpected failure", err)
		}
		span.RecordError(pe)
		span.SetStatus(codes.Error, string(pe.Kind))
		obs.ObserveProvisionStep(string(st.step), StatusFailed)
		p.emit(o, st.step, StatusFailed, pe.Kind)
		p.logger.Debug("provision_step",
			zap.String("attempt_id", o.attemptID),
			zap.String("step", string(st.step)),
			zap.String("status", StatusFailed),
			zap.String("kind", string(pe.Kind)),
		)
		return pe
	}
	obs.ObserveProvisionStep(string(st.step), status)
	p.emit(o, st.step, status, "")
	p.logger.Debug("provision_step",
		zap.String("attempt_id", o.attemptID),
		zap.String("step", string(st.step)),
		zap.String("status", status),
	)
	return nil
}

// unreachable reports whether err means the backend could not serve the call,
// as opposed to rejecting it.
func unreachable(err error) bool {
	return errors.Is(err, backend.ErrTransport) || backend.StatusOf(err) >= 500
}

// unavailable classifies an unreachable backend. A registration whose account
// already exists can no longer be retried as a whole.
func (o *outcome) unavailable(step Step, service string, err error) *Error {
	if o.flow == FlowRegister && o.accountCreated {
		return o.fail(KindPartialProvision, step, "account created but "+service+" unreachable", err)
	}
	return o.fail(KindTransport, step, service+" unreachable", err)
}

// abandoned classifies a cancelled attempt. Once the account exists in the
// registration flow the caller must sign in rather than register again.
func (p *Provisioner) abandoned(o *outcome, step Step, err error) *Error {
	kind := KindTransport
	if o.flow == FlowRegister && o.accountCreated {
		kind = KindPartialProvision
	}
	return o.fail(kind, step, "attempt abandoned by caller", err)
}

func (p *Provisioner) validateRegistration(_ context.Context, o *outcome) (string, error) {
	if err := o.req.Validate(); err != nil {
		return "", err
	}
	return StatusOK, nil
}

func (p *Provisioner) validateLogin(_ context.Context, o *outcome) (string, error) {
	switch {
	case o.req.Email == "":
		return "", invalid("email", "email is required")
	case o.req.Password == "":
		return "", invalid("password", "password is required")
	}
	return StatusOK, nil
}

func (p *Provisioner) validateLink(_ context.Context, o *outcome) (string, error) {
	if err := o.link.Validate(); err != nil {
		return "", err
	}
	return StatusOK, nil
}

func (p *Provisioner) createAccount(ctx context.Context, o *outcome) (string, error) {
	reg, err := p.backend.Register(ctx, backend.RegisterRequest{
		Email:    o.req.Email,
		Password: o.req.Password,
		Name:     o.req.Name,
		Phone:    o.req.Phone,
		RoomID:   o.req.RoomID,
		Role:     backend.RoleTenant,
	})
	if errors.Is(err, backend.ErrMalformed) {
		// 2xx with an unreadable body: the account exists, identity resolution finds it.
		p.logger.Warn("register response unreadable", zap.String("attempt_id", o.attemptID), zap.Error(err))
		o.accountCreated = true
		return StatusOK, nil
	}
	if err != nil {
		return "", classifyRegister(o, err)
	}
	o.accountCreated = true
	o.registeredID = reg.AccountID()
	if linked, ok := reg.(backend.CreatedWithTenant); ok {
		o.tenantID = linked.TenantID
		o.tenantLinked = true
	}
	return StatusOK, nil
}

func classifyRegister(o *outcome, err error) *Error {
	if isCancelled(err) || errors.Is(err, backend.ErrTransport) {
		return o.fail(KindTransport, StepCreateAccount, "account service unreachable", err)
	}
	status := backend.StatusOf(err)
	msg := backend.MessageOf(err)
	lower := strings.ToLower(msg)
	switch {
	case status == http.StatusConflict || strings.Contains(lower, "already exists") || strings.Contains(lower, "already registered"):
		e := o.fail(KindDuplicateAccount, StepCreateAccount, "email already registered", err)
		e.Field = "email"
		return e
	case status >= 500 || status == 0:
		return o.fail(KindTransport, StepCreateAccount, "account service failed", err)
	case strings.Contains(lower, "room"):
		e := o.fail(KindTenantLink, StepCreateAccount, msg, err)
		e.Field = "room_id"
		return e
	default:
		if msg == "" {
			msg = "registration rejected"
		}
		return o.fail(KindValidation, StepCreateAccount, msg, err)
	}
}

func (p *Provisioner) authenticate(ctx context.Context, o *outcome) (string, error) {
	res, err := p.backend.Login(ctx, o.req.Email, o.req.Password)
	if err != nil {
		if o.flow == FlowRegister {
			return "", o.fail(KindPartialProvision, StepAuthenticate, "account created but sign-in failed", err)
		}
		if isCancelled(err) || errors.Is(err, backend.ErrTransport) || backend.StatusOf(err) >= 500 {
			return "", o.fail(KindTransport, StepAuthenticate, "sign-in service unreachable", err)
		}
		return "", o.fail(KindAuthentication, StepAuthenticate, "invalid credentials", err)
	}
	o.loginRole = res.Role
	return StatusOK, nil
}

func (p *Provisioner) resolveIdentity(ctx context.Context, o *outcome) (string, error) {
	u, err := p.backend.CurrentUser(ctx)
	if err == nil && (u.Email == "" || NormalizeEmail(u.Email) == o.req.Email) {
		if err := p.setIdentity(o, u); err != nil {
			return "", err
		}
		return StatusOK, nil
	}
	if isCancelled(err) {
		return "", p.abandoned(o, StepResolveIdentity, err)
	}
	p.logger.Debug("identity endpoint unavailable, scanning accounts",
		zap.String("attempt_id", o.attemptID),
		zap.Int("status", backend.StatusOf(err)),
		zap.Error(err),
	)

	users, err := p.backend.ListUsers(ctx)
	if err != nil {
		if isCancelled(err) {
			return "", p.abandoned(o, StepResolveIdentity, err)
		}
		if unreachable(err) {
			return "", o.unavailable(StepResolveIdentity, "identity service", err)
		}
		return "", o.fail(KindIdentityUnresolved, StepResolveIdentity, "identity could not be determined", err)
	}
	for _, candidate := range users {
		if candidate.ID > 0 && NormalizeEmail(candidate.Email) == o.req.Email {
			if err := p.setIdentity(o, candidate); err != nil {
				return "", err
			}
			return StatusOK, nil
		}
	}
	return "", o.fail(KindIdentityUnresolved, StepResolveIdentity, "no account matches "+o.req.Email, nil)
}

// setIdentity records the resolved account. The resolved id wins over the one
// /register reported, unless /register already tied a tenant record to its id.
func (p *Provisioner) setIdentity(o *outcome, u backend.User) error {
	if o.registeredID != 0 && o.registeredID != u.ID {
		p.logger.Warn("registered id differs from resolved identity",
			zap.String("attempt_id", o.attemptID),
			zap.Int64("registered_id", o.registeredID),
			zap.Int64("resolved_id", u.ID),
			zap.Bool("tenant_linked", o.tenantLinked),
		)
		if o.tenantLinked {
			e := o.fail(KindPartialProvision, StepResolveIdentity, "room was linked to a different account than the one signed in", nil)
			e.UserID = u.ID
			return e
		}
	}
	o.userID = u.ID
	o.userRole = u.Role
	return nil
}

func (p *Provisioner) reconcileTenant(ctx context.Context, o *outcome) (string, error) {
	if o.tenantLinked {
		return StatusSkipped, nil
	}
	ref, err := p.backend.CreateTenant(ctx, backend.TenantRequest{
		UserID: o.userID,
		Name:   strings.TrimSpace(o.req.Name),
		Phone:  strings.TrimSpace(o.req.Phone),
		RoomID: o.req.RoomID,
	})
	if err != nil {
		if isCancelled(err) {
			return "", p.abandoned(o, StepReconcileTenant, err)
		}
		if unreachable(err) {
			return "", o.unavailable(StepReconcileTenant, "tenant service", err)
		}
		if status := backend.StatusOf(err); status == http.StatusUnauthorized || status == http.StatusForbidden {
			// The backend sign-in expired or lost its rights; the room is not at fault.
			if o.flow == FlowRegister {
				return "", o.fail(KindPartialProvision, StepReconcileTenant, "account created but the backend refused the room link", err)
			}
			return "", o.fail(KindAuthentication, StepReconcileTenant, "backend sign-in expired; sign in again", err)
		}
		msg := backend.MessageOf(err)
		if msg == "" {
			msg = "tenant record rejected"
		}
		e := o.fail(KindTenantLink, StepReconcileTenant, msg, err)
		e.Field = "room_id"
		return "", e
	}
	o.tenantID = ref.ID
	o.tenantLinked = true
	return StatusOK, nil
}

// lookupTenant finds the tenant record of a tenant account. It is best-effort:
// a session without a tenant id is still a valid session.
func (p *Provisioner) lookupTenant(ctx context.Context, o *outcome) (string, error) {
	lister, ok := p.backend.(TenantLister)
	if !ok || p.sessionRole(o) != session.RoleTenant {
		return StatusSkipped, nil
	}
	tenants, err := lister.ListTenants(ctx)
	if err != nil {
		p.logger.Debug("tenant lookup failed", zap.String("attempt_id", o.attemptID), zap.Error(err))
		return StatusSkipped, nil
	}
	for _, t := range tenants {
		if t.UserID == o.userID {
			o.tenantID = t.ID
			o.tenantLinked = true
			break
		}
	}
	return StatusOK, nil
}

func (p *Provisioner) sessionRole(o *outcome) session.Role {
	if o.role != "" {
		return o.role
	}
	for _, raw := range []string{o.loginRole, o.userRole} {
		if role, err := session.ParseRole(raw); err == nil {
			return role
		}
	}
	if o.flow == FlowRegister {
		return session.RoleTenant
	}
	return ""
}

func (p *Provisioner) finalize(ctx context.Context, o *outcome) (string, error) {
	if o.userID <= 0 {
		return "", o.fail(KindIdentityUnresolved, StepFinalize, "no identifier resolved", nil)
	}
	if o.flow != FlowLogin && !o.tenantLinked {
		return "", o.fail(KindTenantLink, StepFinalize, "tenant link not confirmed", nil)
	}
	role := p.sessionRole(o)
	if role == "" {
		return "", o.fail(KindAuthentication, StepFinalize, "account role "+o.loginRole+" is not supported", nil)
	}

	s := session.Session{
		Email:    o.req.Email,
		Role:     role,
		UserID:   o.userID,
		TenantID: o.tenantID,
		Cookies:  p.backend.Cookies(),
		IssuedAt: p.now().UTC(),
	}
	if err := ctx.Err(); err != nil {
		return "", p.abandoned(o, StepFinalize, err)
	}
	if p.sink != nil {
		if err := p.sink.Commit(ctx, s); err != nil {
			kind := KindPartialProvision
			if o.flow == FlowLogin {
				kind = KindTransport
			}
			return "", o.fail(kind, StepFinalize, "session could not be stored", err)
		}
	}
	o.session = s

	if p.reloader != nil {
		if err := p.reloader.Reload(ctx, s); err != nil {
			p.logger.Warn("reload after provisioning failed",
				zap.String("attempt_id", o.attemptID),
				zap.Error(err),
			)
		}
	}
	return StatusOK, nil
}
