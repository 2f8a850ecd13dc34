// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisWindowCounter: janela deslizante atômica (script Lua sobre sorted set)
//   - MemoryWindowCounter: a mesma janela em memória, para instância única
//   - PassphraseSealer: envelope PBKDF2 + AES-256-GCM do cofre
//   - RedisBlobStore: GET/SET do blob do cofre e keep-alive
//   - ClientLimiterStore: token bucket por cliente e escopo (golang.org/x/time/rate)
//   - UpstreamSlots: semáforo de requests em voo no upstream
//   - Stats: contadores em memória, Redis e Prometheus
package infra
