package db

const schemaSQL = `
CREATE TABLE IF NOT EXISTS faucet_claim (
    identity   TEXT PRIMARY KEY,
    claimed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS claim_log (
    id         BIGSERIAL PRIMARY KEY,
    event_id   UUID NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    identity   TEXT NOT NULL,
    wallet     TEXT NOT NULL,
    amount     NUMERIC(78, 18) NOT NULL,
    base_units NUMERIC(78, 0) NOT NULL,
    tx_hash    TEXT NOT NULL,
    claimed_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS claim_log_identity_idx ON claim_log (identity, claimed_at DESC);
`

// A repair replaying an older claim must not move the cooldown backwards.
const upsertClaimSQL = `
    INSERT INTO faucet_claim (identity, claimed_at)
    VALUES ($1, $2)
    ON CONFLICT (identity) DO UPDATE
    SET claimed_at = GREATEST(faucet_claim.claimed_at, EXCLUDED.claimed_at)
`

const insertClaimLogSQL = `
    INSERT INTO claim_log (event_id, event_type, identity, wallet, amount, base_units, tx_hash, claimed_at)
    VALUES ($1::text::uuid, $2, $3, $4, $5::text::numeric, $6::text::numeric, $7, $8)
    ON CONFLICT (event_id) DO NOTHING
`
