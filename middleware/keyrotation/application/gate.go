package application

import (
	"strings"

	"apikey-gateway/middleware/keyrotation/domain"
)

// Action é o que fazer com o payload depois que o password foi aceito.
type Action int

const (
	// ActionUse: o payload (ou o cofre, se vazio) vira o pool ativo.
	ActionUse Action = iota + 1
	// ActionStore: o payload é a lista de credenciais a cifrar/ativar.
	ActionStore
	// ActionLiteral: o próprio password é usado como lista de credenciais.
	ActionLiteral
)

func (a Action) String() string {
	switch a {
	case ActionUse:
		return "use"
	case ActionStore:
		return "store"
	case ActionLiteral:
		return "literal"
	default:
		return "unknown"
	}
}

// GatePolicy configura o Gate.
//
// AllowLiteral liga o modo em que um password desconhecido vira a credencial.
// Qualquer string passa a ser aceita sem controle, então o padrão é desligado.
type GatePolicy struct {
	Password     string
	Preset       string
	AllowLiteral bool
}

// Resolution é o resultado do Gate.
type Resolution struct {
	Action      Action
	Credentials string
	// FromVault indica que o pool deve vir do cofre (password ok, payload vazio).
	FromVault bool
}

// Gate mapeia (password, payload) para uma Resolution ou domain.ErrInvalidPassword.
// Não guarda estado.
type Gate struct {
	policy GatePolicy
}

func NewGate(p GatePolicy) Gate {
	return Gate{policy: p}
}

func (g Gate) Resolve(password, payload string) (Resolution, error) {
	payload = strings.TrimSpace(payload)
	if password == "" {
		return Resolution{}, domain.ErrInvalidPassword
	}

	if g.policy.Preset != "" && constantTimeEqual(password, g.policy.Preset) {
		if payload == "" {
			return Resolution{}, domain.ErrNoCredentialsFound
		}
		return Resolution{Action: ActionStore, Credentials: payload}, nil
	}

	if g.policy.Password != "" && constantTimeEqual(password, g.policy.Password) {
		if payload == "" {
			return Resolution{Action: ActionUse, FromVault: true}, nil
		}
		return Resolution{Action: ActionUse, Credentials: payload}, nil
	}

	if g.policy.AllowLiteral {
		return Resolution{Action: ActionLiteral, Credentials: password}, nil
	}
	return Resolution{}, domain.ErrInvalidPassword
}
