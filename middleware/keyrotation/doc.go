// Package keyrotation fornece adapters HTTP (net/http) para o gateway de rotação de API keys.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (rotator, cofre, gate de password) sem net/http
//   - infra: implementações concretas (Redis, janela em memória, AES-GCM, token bucket)
//   - keyrotation (este pacote): middlewares/handlers HTTP + tradução de erros para status/headers
//
// Fluxo no gateway:
//
//  1. Limita o cliente (token bucket por IP/header) e a concorrência
//  2. Lê o password e, opcionalmente, as credenciais enviadas pelo cliente
//  3. Resolve o pool (payload, cofre cifrado ou literal) e inicializa o rotator
//  4. Obtém uma credencial admitida na janela e injeta no request do upstream
//  5. Se esgotado, responde 429 com Retry-After; store fora, 503
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como KEY_WINDOW, KEY_LIMIT, REDIS_ADDR, ADMIN_PASSWORD e UPSTREAM_URL.
package keyrotation
