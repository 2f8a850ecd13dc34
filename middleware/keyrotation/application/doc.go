// Package application contém os casos de uso da rotação de API keys.
//
// Ele depende apenas do pacote domain e não conhece net/http nem Redis:
//   - Rotator: round-robin sobre o pool com admissão na janela deslizante
//   - Vault: cifra/decifra e persiste o pool
//   - Gate: política de password (usar, gravar, rejeitar)
//   - ThrottleService / ConcurrencyService: proteção do próprio gateway
package application
