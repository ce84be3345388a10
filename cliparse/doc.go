// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cliparse handles command-line argument parsing and configuration.

# Configuration

ParseFlags returns a Config struct with all settings:

	cfg, err := cliparse.ParseFlags(args)

A .env file in the working directory is loaded first with godotenv. Values
already in the environment win over the file.

# CLI Flags and Environment Variables

CLI flags take precedence over environment variables:

	-p                 PORT               Server port (default 3318)
	-d                 DATABASE_URL       Database URL (required)
	-t                 DATABASE_TYPE      sqlite or postgres (default sqlite)
	-log-level         LOG_LEVEL          debug, info, warn, error (default info)
	-admin-salt        ADMIN_KEY_SALT     Admin key HMAC secret (required)
	-email-salt        EMAIL_SALT         Invitee email hash salt (required)
	-rpc               CHAIN_RPC_URL      EVM JSON-RPC endpoint; empty uses the ledger in the database
	-anchor-key        ANCHOR_KEY         Anchoring account key (required with -rpc)
	-chain-id          CHAIN_ID           Chain id (default 31337)
	-contract          CONTRACT_ADDRESS   Voting contract (EIP-712 verifyingContract)
	-domain-name       DOMAIN_NAME        EIP-712 domain name (default VeriVote)
	-domain-version    DOMAIN_VERSION     EIP-712 domain version (default 1)
	-content           CONTENT_BACKEND    db, memory, badger, s3 or gcs (default db)
	-content-location  CONTENT_LOCATION   Directory or bucket[/prefix]
	-external-timeout  EXTERNAL_TIMEOUT   Per-attempt timeout (default 10s)
	-retries           RETRY_ATTEMPTS     Attempts per external call (default 4)
	-vote-rate         VOTE_RATE_LIMIT    Requests per second per client (default 5)
	-trace-stdout      TRACE_STDOUT       Print trace spans to stdout

# Example

	cfg, err := cliparse.ParseFlags(os.Args[2:])
	if err != nil {
		log.Fatal(err)
	}
	store, err := db.Open(ctx, db.Dialect(cfg.DatabaseType), cfg.DatabaseURL)
*/
package cliparse
