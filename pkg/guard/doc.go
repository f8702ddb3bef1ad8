/*
Package guard decides whether a navigation may proceed.

Each view route is described once in a Table. For every navigation the
Guard waits (without polling) for the credential client to finish
initializing, then:

  - public routes are allowed;
  - authenticated operators are allowed;
  - protected routes while the identity provider failed go to ErrorPath;
  - otherwise the navigation is redirected to the provider login, which
    returns to the original target.

The wait is bounded by ReadyTimeout, after which the provider is treated
as failed. A newer navigation from the same browser supersedes any older
one still waiting, and the older one is abandoned instead of redirecting.

Unexpected failures follow the Policy: FailOpen allows the navigation,
FailClosed sends it to DeniedPath.
*/
package guard
