// Package domain define contratos e tipos de domínio para a rotação de API keys:
// credenciais, contador de janela deslizante, cofre cifrado e limites por cliente.
//
// Este pacote não depende de net/http, Redis nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura.
package domain
