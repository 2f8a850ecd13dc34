package domain

import "strings"

// Credential é um segredo opaco (API key) usado nas chamadas ao upstream.
// A identidade é o valor exato em bytes.
//
// Nunca logue o valor cru: String devolve a forma mascarada, então %v e %s
// em logs são seguros.
type Credential string

// maskThreshold: abaixo disso mascarar não esconde nada de útil.
const maskThreshold = 8

// Masked devolve os 4 primeiros e 4 últimos caracteres com "..." no meio.
// Valores com até 8 caracteres são devolvidos sem máscara.
func (c Credential) Masked() string {
	s := string(c)
	if len(s) <= maskThreshold {
		return s
	}
	return s[:4] + "..." + s[len(s)-4:]
}

func (c Credential) String() string { return c.Masked() }

// ParseCredentials separa uma lista por vírgulas, remove espaços e entradas vazias.
// A ordem de inserção é preservada (é a ordem de rotação).
func ParseCredentials(raw string) []Credential {
	parts := strings.Split(raw, ",")
	out := make([]Credential, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, Credential(v))
		}
	}
	return out
}

// JoinCredentials é o inverso de ParseCredentials.
func JoinCredentials(creds []Credential) string {
	parts := make([]string, len(creds))
	for i, c := range creds {
		parts[i] = string(c)
	}
	return strings.Join(parts, ",")
}

// SamePool informa se as duas listas têm os mesmos valores na mesma ordem.
func SamePool(a, b []Credential) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
