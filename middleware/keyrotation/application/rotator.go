package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"apikey-gateway/middleware/keyrotation/domain"
)

// RotatorConfig agrupa as dependências e os parâmetros da janela.
type RotatorConfig struct {
	Counter domain.WindowCounter
	Stats   domain.StatsStore
	Logger  *slog.Logger

	// Window e Limit: no máximo Limit admissões por credencial em qualquer
	// janela móvel de Window. Padrões: 60s e 10.
	Window time.Duration
	Limit  int

	// StoreTimeout limita cada chamada ao counter e ao Stats. 0 = sem timeout próprio.
	StoreTimeout time.Duration
	// MaxWait limita a espera de NextOrWait. Nunca passa de Window. 0 = não espera.
	MaxWait time.Duration

	// Now é a fonte de tempo (padrão time.Now).
	Now func() time.Time
}

// Rotator distribui admissões entre as credenciais do pool em round-robin.
//
// O cursor é local ao processo e só indica qual credencial tentar primeiro;
// quem decide de fato é o TryAdmit atômico do counter. Next é serializado
// por um mutex dentro do processo.
type Rotator struct {
	cfg RotatorConfig
	log *slog.Logger

	mu     sync.Mutex
	pool   []domain.Credential
	cursor int
	closed bool
}

func NewRotator(cfg RotatorConfig) *Rotator {
	if cfg.Window <= 0 {
		cfg.Window = domain.DefaultWindow
	}
	if cfg.Limit <= 0 {
		cfg.Limit = domain.DefaultLimit
	}
	if cfg.MaxWait > cfg.Window {
		cfg.MaxWait = cfg.Window
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Rotator{cfg: cfg, log: log}
}

// Initialize troca o pool a partir de uma lista separada por vírgulas.
// Devolve changed=false quando a lista (após trim) é idêntica à atual.
func (r *Rotator) Initialize(ctx context.Context, raw string) (bool, error) {
	return r.InitializeList(ctx, domain.ParseCredentials(raw))
}

// InitializeList troca o pool local e volta o cursor para 0. Mesma lista na
// mesma ordem não faz nada. Os contadores no store são compartilhados entre
// processos e não são tocados aqui.
func (r *Rotator) InitializeList(ctx context.Context, creds []domain.Credential) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPool(creds); err != nil {
		return false, err
	}
	if domain.SamePool(r.pool, creds) {
		return false, nil
	}
	r.swap(creds)
	return true, nil
}

// Replace é a troca feita pelo caminho administrativo: além de trocar o pool,
// zera os contadores das credenciais que saíram dele. Credenciais que continuam
// no pool mantêm as admissões já contadas. Se o reset falhar o pool antigo fica.
func (r *Rotator) Replace(ctx context.Context, raw string) (bool, error) {
	creds := domain.ParseCredentials(raw)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkPool(creds); err != nil {
		return false, err
	}
	if domain.SamePool(r.pool, creds) {
		return false, nil
	}

	removed := removedKeys(r.pool, creds)
	if len(removed) > 0 {
		storeCtx, cancel := r.storeContext(ctx)
		err := r.cfg.Counter.Reset(storeCtx, removed...)
		cancel()
		if err != nil {
			r.log.Error("counters reset failed", "error", err)
			return false, domain.ErrStoreUnavailable
		}
		r.log.Info("counters_reset", "type", "counters_reset", "keys", len(removed))
	}
	r.swap(creds)
	return true, nil
}

func (r *Rotator) checkPool(creds []domain.Credential) error {
	if r.closed {
		return domain.ErrClosed
	}
	if len(creds) == 0 {
		return domain.ErrEmptyPool
	}
	return nil
}

func (r *Rotator) swap(creds []domain.Credential) {
	r.pool = append([]domain.Credential(nil), creds...)
	r.cursor = 0
	r.log.Info("pool_changed", "type", "pool_changed", "keys", len(creds))
}

// removedKeys lista as credenciais de old que não estão em next.
func removedKeys(old, next []domain.Credential) []string {
	keep := make(map[domain.Credential]struct{}, len(next))
	for _, c := range next {
		keep[c] = struct{}{}
	}
	var out []string
	for _, c := range old {
		if _, ok := keep[c]; !ok {
			out = append(out, string(c))
		}
	}
	return out
}

// Pool devolve uma cópia do pool ativo.
func (r *Rotator) Pool() []domain.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Credential(nil), r.pool...)
}

// Cursor devolve o índice da credencial preferida para a próxima admissão.
func (r *Rotator) Cursor() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

// Next devolve uma credencial admitida na janela.
//
// Tenta a credencial do cursor; se negada ou se o store falhar, avança o
// cursor e tenta a próxima, no máximo len(pool) vezes.
//   - todas negadas: *domain.ExhaustedError (errors.Is ErrPoolExhausted)
//   - nenhuma decisão (só erros de store): domain.ErrStoreUnavailable
//
// A admissão é consumida assim que TryAdmit aceita, mesmo que quem chamou desista.
// As estatísticas são gravadas depois de soltar o lock, cada uma com StoreTimeout.
func (r *Rotator) Next(ctx context.Context) (domain.Credential, error) {
	cred, events, err := r.next(ctx)
	for _, ev := range events {
		r.record(ctx, ev)
	}
	return cred, err
}

func (r *Rotator) next(ctx context.Context) (domain.Credential, []domain.StatsEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", nil, domain.ErrClosed
	}
	n := len(r.pool)
	if n == 0 {
		return "", nil, domain.ErrEmptyPool
	}

	now := r.cfg.Now()
	var retryAt time.Time
	decided := false
	events := make([]domain.StatsEvent, 0, n)
	event := func(cred domain.Credential, outcome domain.Outcome) {
		events = append(events, domain.StatsEvent{Credential: cred.Masked(), Outcome: outcome, At: now})
	}

	for i := 0; i < n; i++ {
		cred := r.pool[r.cursor]

		adm, err := r.tryAdmit(ctx, cred, now)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", events, ctxErr
			}
			r.log.Warn("counter store error, skipping credential", "key", cred.Masked(), "error", err)
			event(cred, domain.OutcomeStoreError)
			r.advance(cred, "store unavailable")
			continue
		}
		decided = true

		if adm.Allowed {
			event(cred, domain.OutcomeAdmitted)
			r.log.Debug("key_usage", "type", "key_usage", "key", cred.Masked(), "count", adm.Count, "limit", r.cfg.Limit)
			return cred, events, nil
		}

		event(cred, domain.OutcomeExhausted)
		free := now.Add(r.cfg.Window)
		if !adm.OldestAt.IsZero() {
			free = adm.OldestAt.Add(r.cfg.Window)
		}
		if retryAt.IsZero() || free.Before(retryAt) {
			retryAt = free
		}
		r.advance(cred, "request limit reached")
	}

	if !decided {
		return "", events, domain.ErrStoreUnavailable
	}
	return "", events, &domain.ExhaustedError{RetryAt: retryAt}
}

// NextOrWait é Next com uma espera opcional: se o pool está esgotado e uma vaga
// abre dentro de MaxWait, dorme até lá e tenta de novo uma vez.
func (r *Rotator) NextOrWait(ctx context.Context) (domain.Credential, error) {
	cred, err := r.Next(ctx)
	if err == nil || r.cfg.MaxWait <= 0 {
		return cred, err
	}

	wait, ok := domain.RetryAfter(err, r.cfg.Now())
	if !ok || wait > r.cfg.MaxWait {
		return "", err
	}

	// a entrada só expira quando fica estritamente mais velha que a janela
	t := time.NewTimer(wait + time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-t.C:
	}
	return r.Next(ctx)
}

// Close encerra o rotator; chamadas seguintes devolvem domain.ErrClosed.
func (r *Rotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.pool = nil
	return nil
}

func (r *Rotator) tryAdmit(ctx context.Context, cred domain.Credential, now time.Time) (domain.Admission, error) {
	storeCtx, cancel := r.storeContext(ctx)
	defer cancel()

	adm, err := r.cfg.Counter.TryAdmit(storeCtx, string(cred), now, r.cfg.Window, r.cfg.Limit)
	if err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return adm, err
		}
		return adm, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return adm, nil
}

// advance move o cursor para a próxima credencial (módulo len, pool de 1 volta para si).
func (r *Rotator) advance(prev domain.Credential, reason string) {
	r.cursor = (r.cursor + 1) % len(r.pool)
	next := r.pool[r.cursor]
	r.log.Info("key_switch",
		"type", "key_switch",
		"previousKey", prev.Masked(),
		"newKey", next.Masked(),
		"reason", reason,
	)
}

func (r *Rotator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}

func (r *Rotator) record(ctx context.Context, ev domain.StatsEvent) {
	if r.cfg.Stats == nil {
		return
	}
	storeCtx, cancel := r.storeContext(ctx)
	defer cancel()
	if err := r.cfg.Stats.Record(storeCtx, ev); err != nil {
		r.log.Debug("stats record failed", "error", err)
	}
}
