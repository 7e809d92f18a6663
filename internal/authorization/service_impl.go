package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	authdomain "github.com/smallbiznis/portal/internal/auth/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads policies persisted through the GORM adapter and seeds
// the built-in role grants.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, identity *authdomain.Identity, object, action string) error {
	if identity == nil {
		return ErrInvalidActor
	}
	if s.Allowed(ctx, identity, object, action) {
		return nil
	}
	s.log.Info("authorization denied",
		zap.String("subject", identity.Subject),
		zap.Strings("roles", identity.Roles),
		zap.String("object", object),
		zap.String("action", action),
	)
	return ErrForbidden
}

func (s *ServiceImpl) Allowed(_ context.Context, identity *authdomain.Identity, object, action string) bool {
	if identity == nil {
		return false
	}
	for _, role := range identity.Roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		allowed, err := s.enforcer.Enforce("role:"+role, object, action)
		if err != nil {
			s.log.Error("casbin enforce failed", zap.Error(err))
			return false
		}
		if allowed {
			return true
		}
	}
	return false
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:admin", ObjectInvoice, ActionInvoiceCreate},
		{"role:admin", ObjectInvoice, ActionInvoiceResend},
		{"role:admin", ObjectInvoice, ActionInvoiceListAny},
		{"role:admin", ObjectInvoice, ActionInvoiceRenderAny},
		{"role:admin", ObjectInvoice, ActionReconcile},
		{"role:admin", ObjectPreview, ActionPreviewAny},

		{"role:client", ObjectInvoice, ActionInvoiceListOwn},
		{"role:client", ObjectInvoice, ActionInvoiceRenderOwn},
		{"role:client", ObjectPreview, ActionPreviewOwn},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
