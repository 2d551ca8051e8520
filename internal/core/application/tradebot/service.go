// Package tradebot drives the local side of cross-chain swaps: every tick it
// moves each unfinished trade one step forward, by reading the trading AT and
// the foreign chain and by submitting the messages and transactions its
// current state calls for.
package tradebot

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/qortal/qortd/internal/core/application"
	"github.com/qortal/qortd/internal/core/application/acct"
	"github.com/qortal/qortd/internal/core/domain"
	"github.com/qortal/qortd/internal/core/ports"
)

var terminalStates = []domain.TradeBotState{
	domain.Done, domain.Refunded, domain.Cancelled,
}

// Service is the trade bot.
type Service struct {
	repoManager ports.RepoManager
	node        ports.QortalNode
	chains      map[string]ports.ForeignChain
	wallets     map[string]ports.ForeignWallet
	registry    *acct.Registry
	cfg         Config

	tickLock   sync.Mutex
	tradeLocks sync.Map

	lock   sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService returns a trade bot for the ACCTs of registry. chains and
// wallets are keyed by foreign blockchain name.
func NewService(
	repoManager ports.RepoManager,
	node ports.QortalNode,
	chains map[string]ports.ForeignChain,
	wallets map[string]ports.ForeignWallet,
	registry *acct.Registry,
	cfg Config,
) *Service {
	return &Service{
		repoManager: repoManager,
		node:        node,
		chains:      chains,
		wallets:     wallets,
		registry:    registry,
		cfg:         cfg.withDefaults(),
	}
}

// Start ticks every configured interval until ctx is done or Stop is called.
func (s *Service) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
	log.Debug("trade bot started")
	return nil
}

// Stop waits for the running tick, if any, to complete.
func (s *Service) Stop() {
	s.lock.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.lock.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	log.Debug("trade bot stopped")
}

// Tick processes every unfinished trade once. Ticks never overlap. A failing
// trade does not prevent the others from progressing.
func (s *Service) Tick(ctx context.Context) {
	s.tickLock.Lock()
	defer s.tickLock.Unlock()

	start := time.Now()
	tickID := uuid.New().String()
	logger := log.WithField("tick", tickID)
	defer func() {
		application.TradeBotTicks.Inc()
		application.TradeBotTickDuration.Observe(time.Since(start).Seconds())
	}()

	entries, err := s.repoManager.TradeBotRepository().GetActiveTradeBotData(ctx)
	if err != nil {
		logger.WithError(err).Warn("failed to get active trades")
		return
	}
	if len(entries) <= 0 {
		return
	}

	eg := &errgroup.Group{}
	eg.SetLimit(s.cfg.Concurrency)
	for i := range entries {
		entry := entries[i]
		eg.Go(func() error {
			if err := s.processTrade(ctx, entry.TradePrivateKey); err != nil {
				application.TradeBotFailures.WithLabelValues(string(entry.State)).Inc()
				logger.WithError(err).WithField("trade", shortKey(entry)).
					Warnf("failed to process trade in state %s", entry.State)
			}
			return nil
		})
	}
	eg.Wait()
}

// CreateOffer deploys a new trading AT offering QORT and tracks it.
func (s *Service) CreateOffer(
	ctx context.Context, req CreateOfferRequest,
) (*domain.TradeBotData, error) {
	a, err := s.getACCT(req.ACCTName)
	if err != nil {
		return nil, err
	}
	if !acct.IsValidAddress(req.CreatorAddress) {
		return nil, acct.ErrInvalidAddress
	}
	if req.QortAmount == 0 || req.ForeignAmount == 0 {
		return nil, ErrInvalidAmount
	}
	if _, err := btcutil.DecodeAddress(req.ForeignReceivingAddress, a.Params()); err != nil {
		return nil, fmt.Errorf("invalid foreign receiving address: %w", err)
	}
	if _, err := s.getChain(a.ForeignBlockchain()); err != nil {
		return nil, err
	}

	tradePrivateKey, err := newTradePrivateKey()
	if err != nil {
		return nil, err
	}
	keys, err := acct.DeriveTradeKeys(tradePrivateKey)
	if err != nil {
		return nil, err
	}
	data, err := a.BuildInitialData(acct.OfferParams{
		CreatorTradeAddress: keys.NativeAddress,
		CreatorForeignPKH:   keys.ForeignPublicKeyHash,
		TradeTimeout:        req.TradeTimeout,
		QortAmount:          req.QortAmount,
		ForeignAmount:       req.ForeignAmount,
	})
	if err != nil {
		return nil, err
	}

	atAddress, err := s.node.DeployAT(ctx, ports.DeployATRequest{
		Name:        fmt.Sprintf("QORT/%s ACCT", a.ForeignBlockchain()),
		Description: fmt.Sprintf("QORT/%s cross-chain trade", a.ForeignBlockchain()),
		ACCTName:    a.Name(),
		CodeHash:    a.CodeHash(),
		DataBytes:   data,
		QortAmount:  req.QortAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deploy AT: %w", err)
	}

	entry, err := domain.NewTradeBotData(
		tradePrivateKey, a.Name(), domain.BobWaitingForATConfirm,
	)
	if err != nil {
		return nil, err
	}
	entry.CreatorAddress = req.CreatorAddress
	entry.ATAddress = atAddress
	entry.ForeignBlockchain = a.ForeignBlockchain()
	entry.QortAmount = req.QortAmount
	entry.ForeignAmount = req.ForeignAmount
	entry.ForeignReceivingAddress = req.ForeignReceivingAddress
	setTradeKeys(entry, keys)

	if err := s.repoManager.TradeBotRepository().SaveTradeBotData(ctx, *entry); err != nil {
		return nil, err
	}
	log.WithField("trade", shortKey(*entry)).Infof(
		"deployed AT %s offering %d QORT for %d %s",
		atAddress, req.QortAmount, req.ForeignAmount, a.ForeignBlockchain(),
	)
	return entry, nil
}

// RespondToOffer starts trading with the given offering AT. The foreign leg
// is funded by the next tick.
func (s *Service) RespondToOffer(
	ctx context.Context, req RespondToOfferRequest,
) (*domain.TradeBotData, error) {
	if !acct.IsValidAddress(req.ReceivingAddress) {
		return nil, acct.ErrInvalidAddress
	}
	at, err := s.repoManager.ATRepository().GetATByAddress(ctx, req.ATAddress)
	if err != nil {
		return nil, err
	}
	found, err := s.registry.ByCodeHash(at.CodeHash)
	if err != nil {
		return nil, err
	}
	a, err := s.getACCT(found.Name())
	if err != nil {
		return nil, err
	}
	if _, err := s.getWallet(a.ForeignBlockchain()); err != nil {
		return nil, err
	}
	if req.ForeignRefundAddress != "" {
		if _, err := btcutil.DecodeAddress(req.ForeignRefundAddress, a.Params()); err != nil {
			return nil, fmt.Errorf("invalid foreign refund address: %w", err)
		}
	}

	tradeData, err := a.PopulateTradeDataFromAT(ctx, s.repoManager.ATRepository(), *at)
	if err != nil {
		return nil, err
	}
	if !tradeData.IsOffering() || tradeData.IsFinished {
		return nil, ErrATNotOffering
	}
	inProgress, err := s.repoManager.TradeBotRepository().
		ExistsTradeWithATExcludingStates(ctx, req.ATAddress, terminalStates)
	if err != nil {
		return nil, err
	}
	if inProgress {
		return nil, ErrTradeInProgress
	}

	tradePrivateKey, err := newTradePrivateKey()
	if err != nil {
		return nil, err
	}
	keys, err := acct.DeriveTradeKeys(tradePrivateKey)
	if err != nil {
		return nil, err
	}
	now := s.cfg.Clock()

	entry, err := domain.NewTradeBotData(
		tradePrivateKey, a.Name(), domain.FundingPending,
	)
	if err != nil {
		return nil, err
	}
	entry.CreatorAddress = tradeData.CreatorAddress
	entry.ATAddress = req.ATAddress
	entry.ForeignBlockchain = a.ForeignBlockchain()
	entry.QortAmount = tradeData.QortAmount
	entry.ForeignAmount = tradeData.ExpectedForeignAmount
	entry.ReceivingAccountInfo = req.ReceivingAddress
	entry.ForeignReceivingAddress = req.ForeignRefundAddress
	entry.PartnerNativeAddress = tradeData.CreatorTradeAddress
	entry.PartnerForeignPublicKeyHash = tradeData.CreatorForeignPKH
	entry.HashOfSecret = acct.HashOfSecret(acct.SecretA(tradePrivateKey))
	entry.LockTimeA = uint64(now.Unix()) + tradeData.TradeTimeout*60
	setTradeKeys(entry, keys)

	if err := s.repoManager.TradeBotRepository().SaveTradeBotData(ctx, *entry); err != nil {
		return nil, err
	}
	log.WithField("trade", shortKey(*entry)).Infof(
		"responding to AT %s, paying %d %s for %d QORT",
		req.ATAddress, entry.ForeignAmount, entry.ForeignBlockchain, entry.QortAmount,
	)
	return entry, nil
}

// RequestCancel flags an offer for cancellation. The cancel message is sent
// to the AT by the next tick.
func (s *Service) RequestCancel(ctx context.Context, tradePrivateKey []byte) error {
	unlock := s.lockTrade(tradePrivateKey)
	defer unlock()

	return s.repoManager.TradeBotRepository().UpdateTradeBotData(
		ctx, tradePrivateKey,
		func(t *domain.TradeBotData) (*domain.TradeBotData, error) {
			if _, err := t.RequestCancel(); err != nil {
				return nil, err
			}
			return t, nil
		},
	)
}

// DeleteEntry removes a finished trade, or one that never locked any funds.
func (s *Service) DeleteEntry(ctx context.Context, tradePrivateKey []byte) error {
	unlock := s.lockTrade(tradePrivateKey)
	defer unlock()

	repo := s.repoManager.TradeBotRepository()
	entry, err := repo.GetTradeBotData(ctx, tradePrivateKey)
	if err != nil {
		return err
	}
	if !isDeletable(*entry) {
		return ErrNotDeletable
	}
	count, err := repo.DeleteTradeBotData(ctx, tradePrivateKey)
	if err != nil {
		return err
	}
	if count <= 0 {
		return domain.ErrTradeBotNotFound
	}
	s.tradeLocks.Delete(domain.TradeKey(tradePrivateKey))
	return nil
}

// ListEntries ...
func (s *Service) ListEntries(ctx context.Context) ([]domain.TradeBotData, error) {
	return s.repoManager.TradeBotRepository().GetAllTradeBotData(ctx)
}

// GetEntry ...
func (s *Service) GetEntry(
	ctx context.Context, tradePrivateKey []byte,
) (*domain.TradeBotData, error) {
	return s.repoManager.TradeBotRepository().GetTradeBotData(ctx, tradePrivateKey)
}

// ListOffers returns the trade data of every AT currently offering QORT.
func (s *Service) ListOffers(ctx context.Context) ([]domain.CrossChainTradeData, error) {
	repo := s.repoManager.ATRepository()
	isExecutable := true
	ats, err := repo.GetAllATsByFunctionality(ctx, s.registry.CodeHashes(), &isExecutable)
	if err != nil {
		return nil, err
	}

	offers := make([]domain.CrossChainTradeData, 0)
	for _, at := range ats {
		a, err := s.registry.ByCodeHash(at.CodeHash)
		if err != nil {
			continue
		}
		tradeData, err := a.PopulateTradeDataFromAT(ctx, repo, at)
		if err != nil {
			log.WithError(err).Debugf("skipping AT %s", at.Address)
			continue
		}
		if tradeData.IsOffering() && !tradeData.IsFinished {
			offers = append(offers, *tradeData)
		}
	}
	return offers, nil
}

func (s *Service) lockTrade(tradePrivateKey []byte) func() {
	l, _ := s.tradeLocks.LoadOrStore(domain.TradeKey(tradePrivateKey), &sync.Mutex{})
	mu := l.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) getACCT(name string) (bitcoinyACCT, error) {
	a, err := s.registry.ByName(name)
	if err != nil {
		return nil, err
	}
	b, ok := a.(bitcoinyACCT)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBlockchain, a.ForeignBlockchain())
	}
	return b, nil
}

func (s *Service) getChain(blockchain string) (ports.ForeignChain, error) {
	chain, ok := s.chains[blockchain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBlockchain, blockchain)
	}
	return chain, nil
}

func (s *Service) getWallet(blockchain string) (ports.ForeignWallet, error) {
	wallet, ok := s.wallets[blockchain]
	if !ok {
		return nil, fmt.Errorf("%w: no wallet for %s", ErrUnsupportedBlockchain, blockchain)
	}
	return wallet, nil
}

func isDeletable(entry domain.TradeBotData) bool {
	if entry.IsTerminal() {
		return true
	}
	return entry.State == domain.FundingPending && entry.FundingTxID == ""
}

func setTradeKeys(entry *domain.TradeBotData, keys *acct.TradeKeys) {
	entry.TradeNativePublicKey = keys.NativePublicKey
	entry.TradeNativePublicKeyHash = keys.NativePublicKeyHash
	entry.TradeNativeAddress = keys.NativeAddress
	entry.TradeForeignPublicKey = keys.ForeignPublicKey
	entry.TradeForeignPublicKeyHash = keys.ForeignPublicKeyHash
}

func newTradePrivateKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

func shortKey(entry domain.TradeBotData) string {
	return entry.Key()[:8]
}
