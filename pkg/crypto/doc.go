/*
Package crypto owns the two pieces of process-wide state initialized before
any subsystem starts: node identity and at-rest encryption.

NodeIdentity pairs an Ed25519 signing key (consensus proposals and votes
are signed with it) with an X25519 sealed-box key (for payloads addressed specifically
to this node) and a self-signed proof binding the two. It is generated once
at genesis and persisted to data_dir/wallet.json via LoadOrCreateWallet,
which is idempotent across restarts.

AtRestCipher is unrelated to identity: it is the AES-256-GCM cipher the
storage tiers use to encrypt warm/cold/archive blobs when
encryption_at_rest is configured.
*/
package crypto
