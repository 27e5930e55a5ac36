// Package jwt issues and validates stateless HS256 session tokens.
//
// Two independent secrets sign two scopes: admin roles get admin-scoped
// tokens, every other role gets client-scoped tokens. A token signed under
// one secret never validates under the other. Tokens are not revocable;
// rotating a secret invalidates every outstanding token of that scope.
package jwt
