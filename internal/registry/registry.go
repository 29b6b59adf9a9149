// Package registry creates CRR pools and indexes them by id and by reserve asset.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"curvePool/internal/model"
	"curvePool/internal/pool"
	"curvePool/internal/pricing"
)

var (
	ErrPoolExists   = errors.New("registry: asset already has a pool")
	ErrPoolNotFound = errors.New("registry: pool not found")
)

// Backend resolves the ledgers a pool settles against: the custodian of its reserve
// asset and the issuer of its own token.
type Backend struct {
	Custodian func(asset common.Address) pool.AssetCustodian
	Issuer    func(poolID common.Hash) pool.TokenIssuer
}

// Config wires the registry. Factory is the account creators approve for the seed
// reserve pull.
type Config struct {
	Factory    common.Address
	Backend    Backend
	Sink       pool.EventSink
	Clock      pool.Clock
	Rejections pool.RejectionObserver
	Logger     *zap.Logger

	// OnRegister, when set, sees every pool as it joins the registry.
	OnRegister func(p *pool.Pool)
}

// CreateRequest describes a new pool.
type CreateRequest struct {
	Creator     common.Address
	Asset       common.Address
	Decimals    pricing.Decimals
	Params      pool.Params
	Roles       pool.Roles
	IBRDuration time.Duration
	SeedReserve *uint256.Int
	SeedSupply  *uint256.Int
}

type minterAuthorizer interface {
	Authorize(minter common.Address)
}

// Registry is the arena of pools. Pools never share mutable state; the registry lock
// only guards the indexes.
type Registry struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	byID    map[common.Hash]*pool.Pool
	byAsset map[common.Address]*pool.Pool
	order   []*pool.Pool
	nonce   uint64
}

func New(cfg Config) (*Registry, error) {
	if cfg.Factory == (common.Address{}) {
		return nil, fmt.Errorf("new registry: factory: %w", pool.ErrZeroAddress)
	}
	if cfg.Backend.Custodian == nil || cfg.Backend.Issuer == nil {
		return nil, errors.New("new registry: backend custodian and issuer are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = pool.SystemClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		cfg:     cfg,
		logger:  logger,
		byID:    make(map[common.Hash]*pool.Pool),
		byAsset: make(map[common.Address]*pool.Pool),
	}, nil
}

// Factory is the account creators approve for the seed reserve.
func (r *Registry) Factory() common.Address { return r.cfg.Factory }

// PoolID derives a pool id from the factory, the reserve asset and a creation nonce.
func PoolID(factory, asset common.Address, nonce uint64) common.Hash {
	n := uint256.NewInt(nonce).Bytes32()
	return crypto.Keccak256Hash(factory.Bytes(), asset.Bytes(), n[:])
}

// PoolAddress derives the custody account of a pool from its id.
func PoolAddress(id common.Hash) common.Address {
	return common.BytesToAddress(crypto.Keccak256(id.Bytes())[12:])
}

const opCreate = "create pool"

// CreatePool builds a pool, pulls the seed reserve from the creator into the pool
// account, mints the seed supply to the creator and registers the pool.
func (r *Registry) CreatePool(ctx context.Context, req CreateRequest) (*pool.Pool, error) {
	if req.Creator == (common.Address{}) || req.Asset == (common.Address{}) {
		return nil, pool.NewError(opCreate, pool.ErrZeroAddress, nil, "creator and asset")
	}
	if req.SeedReserve == nil || req.SeedReserve.IsZero() || req.SeedSupply == nil || req.SeedSupply.IsZero() {
		return nil, pool.NewError(opCreate, pool.ErrZeroAmount, nil, "seed reserve and supply")
	}
	if req.IBRDuration < 0 {
		return nil, pool.NewError(opCreate, pool.ErrParameterOutOfBounds, nil, "ibr duration %s", req.IBRDuration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byAsset[req.Asset]; ok {
		return nil, existsError(opCreate, req.Asset.Hex())
	}

	id := PoolID(r.cfg.Factory, req.Asset, r.nonce)
	addr := PoolAddress(id)
	custodian := r.cfg.Backend.Custodian(req.Asset)
	issuer := r.cfg.Backend.Issuer(id)

	p, err := pool.New(pool.Config{
		ID:          id,
		Asset:       req.Asset,
		Address:     addr,
		Decimals:    req.Decimals,
		Params:      req.Params,
		Roles:       req.Roles,
		IBREnd:      r.cfg.Clock.Now().Add(req.IBRDuration),
		SeedReserve: req.SeedReserve,
		SeedSupply:  req.SeedSupply,
	}, r.deps(issuer, custodian))
	if err != nil {
		return nil, fmt.Errorf("create pool for %s: %w", req.Asset.Hex(), err)
	}

	if a, ok := issuer.(minterAuthorizer); ok {
		a.Authorize(addr)
	}
	if err := custodian.TransferFrom(ctx, r.cfg.Factory, req.Creator, addr, req.SeedReserve); err != nil {
		return nil, pool.NewError(opCreate, pool.ErrExternalCallFailed, err, "pull seed reserve")
	}
	if err := issuer.Mint(ctx, addr, req.Creator, req.SeedSupply); err != nil {
		if refundErr := custodian.Transfer(context.WithoutCancel(ctx), addr, req.Creator, req.SeedReserve); refundErr != nil {
			r.logger.Error("seed refund failed", zap.String("pool_id", id.Hex()), zap.Error(refundErr))
			return nil, pool.NewError(opCreate, pool.ErrCompensationFailed, errors.Join(pool.ErrExternalCallFailed, err, refundErr), "refund seed reserve")
		}
		return nil, pool.NewError(opCreate, pool.ErrExternalCallFailed, err, "mint seed supply")
	}

	r.nonce++
	r.addLocked(p)
	r.logger.Info("pool created",
		zap.String("pool_id", id.Hex()),
		zap.String("asset", req.Asset.Hex()),
		zap.String("address", addr.Hex()),
		zap.String("seed_reserve", req.SeedReserve.Dec()),
		zap.String("seed_supply", req.SeedSupply.Dec()),
	)
	return p, nil
}

// Restore registers pools rebuilt from persisted records. Either every record is
// registered or none is; ids or assets already registered, or repeated within
// records, are rejected.
func (r *Registry) Restore(records []model.PoolRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make(map[common.Hash]struct{}, len(records))
	assets := make(map[common.Address]struct{}, len(records))
	restored := make([]*pool.Pool, 0, len(records))
	for _, rec := range records {
		id := common.HexToHash(rec.PoolID)
		asset := common.HexToAddress(rec.Asset)
		_, seenID := ids[id]
		_, seenAsset := assets[asset]
		_, hasID := r.byID[id]
		_, hasAsset := r.byAsset[asset]
		if seenID || seenAsset || hasID || hasAsset {
			return existsError("restore pool", rec.PoolID)
		}
		ids[id] = struct{}{}
		assets[asset] = struct{}{}

		p, err := pool.Restore(rec, r.deps(r.cfg.Backend.Issuer(id), r.cfg.Backend.Custodian(asset)))
		if err != nil {
			return err
		}
		restored = append(restored, p)
	}

	for _, p := range restored {
		r.addLocked(p)
		r.nonce++
	}
	r.logger.Info("pools restored", zap.Int("count", len(records)))
	return nil
}

// existsError reports a second pool for the same asset or id as a state error.
func existsError(op, what string) error {
	return &pool.Error{Op: op, Kind: pool.KindState, Reason: ErrPoolExists, Detail: what}
}

func (r *Registry) deps(issuer pool.TokenIssuer, custodian pool.AssetCustodian) pool.Deps {
	return pool.Deps{
		Issuer:     issuer,
		Custodian:  custodian,
		Sink:       r.cfg.Sink,
		Clock:      r.cfg.Clock,
		Rejections: r.cfg.Rejections,
		Logger:     r.logger,
	}
}

func (r *Registry) addLocked(p *pool.Pool) {
	r.byID[p.ID()] = p
	r.byAsset[p.Asset()] = p
	r.order = append(r.order, p)
	if r.cfg.OnRegister != nil {
		r.cfg.OnRegister(p)
	}
}

// Get returns the pool with the given id.
func (r *Registry) Get(id common.Hash) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", id.Hex(), ErrPoolNotFound)
	}
	return p, nil
}

// ByAsset returns the pool trading against asset.
func (r *Registry) ByAsset(asset common.Address) (*pool.Pool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byAsset[asset]
	if !ok {
		return nil, fmt.Errorf("pool for asset %s: %w", asset.Hex(), ErrPoolNotFound)
	}
	return p, nil
}

// Pools returns every registered pool in creation order.
func (r *Registry) Pools() []*pool.Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*pool.Pool, len(r.order))
	copy(out, r.order)
	return out
}

// Records returns the persisted form of every pool.
func (r *Registry) Records() []model.PoolRecord {
	pools := r.Pools()
	out := make([]model.PoolRecord, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Record())
	}
	return out
}
