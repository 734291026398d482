/*
Package security implements node credentials, command signatures and the
coordinator's TLS material.

# Credentials

Every node is provisioned with a bootstrap token: 32 bytes from crypto/rand,
hex encoded. The node's API secret is never generated independently; it is
derived from the token and the coordinator master key:

	api_secret  = hex(HMAC-SHA256(master_key, token))
	hidden_path = hex(SHA-256("hidden-" + token))[:16]

The hidden path is a stable per-node slug that the coordinator hands back
at registration so operators can publish node-specific URLs without
exposing the token.

Because the derivation is deterministic, the coordinator can recompute the
secret for any stored token, and rotating the master key invalidates every
issued secret at once. Secrets are compared with hmac.Equal.

	issuer, _ := security.NewIssuer(masterKey)
	_ = issuer.Issue(node)              // sets node.Token and node.APISecret
	ok := issuer.Verify(token, secret)  // constant time

# Signed Commands

Commands sent to a node carry an X-Signature header holding the hex
HMAC-SHA256 of the canonical request body under the node's API secret.
Both sides canonicalize before hashing:

  - object keys sorted
  - no insignificant whitespace and no trailing newline
  - numbers kept verbatim (decoded with UseNumber)
  - no HTML escaping

The flow for one command:

	operator                     node agent
	   │  body = {"lines":200,"timestamp":...}
	   │  sig  = HMAC(secret, CanonicalJSON(body))
	   ├──── POST /api/logs, X-Signature: sig ────▶│
	   │                                           │ VerifyBody(secret, body, sig)
	   │                                           │   canonicalize, recompute
	   │                                           │   hmac.Equal
	   │◀──────────── 200 / 401 ───────────────────┤

VerifyBody returns ErrAuthentication for every failure, including an empty
secret or a body that is not JSON. Callers must not tell a client which
check failed. An unregistered agent holds the empty secret and therefore
refuses every command.

# Master Key

The master key is the only long-lived secret on the coordinator. When none
is configured the coordinator falls back to DefaultMasterKey and logs a
warning on every start; a fleet running on the default key has no real
authentication. Tokens and secrets only ever reach the logs through Mask,
which keeps the first four characters.

# TLS

LoadServerTLSConfig and LoadClientTLSConfig build the configs for the
coordinator listener and the agent's outbound client. Client verification
is always on; a ca_file adds a private root on top of the system pool.

When no certificate is configured and auto_tls is enabled, the coordinator
keeps a private CA under its data directory:

	<data_dir>/tls/
	├── ca.crt       root, ECDSA P-256, 10 years
	├── ca.key       0600
	├── server.crt   serving certificate, 90 days
	└── server.key   0600

EnsureServerCertificate creates the CA once and reissues the serving
certificate when it is missing or has less than 30 days left. Agents trust
it by pointing ca_file at ca.crt.
*/
package security
