// Package quantumbank implements a Discord bot providing a role-play
// banking experience: per-user accounts with balances and transaction
// histories, confirmed peer-to-peer transfers, and a random-chat
// pairing queue, alongside the usual informational slash commands.
//
// Key components of the package include:
//
//   - QuantumBank: The main struct that encapsulates the bot's core functionality.
//   - AccountStore: Persists accounts and transaction records.
//   - TransferProtocol: Manages pending transfers and their confirmation.
//   - PairingQueue: Matches users for anonymous one-on-one chats.
//   - Discord: Handles Discord integration and message processing.
//   - API: Provides a backend API for bot management and monitoring.
//
// Account balances are decimal values; every completed transfer commits
// a debit and a credit record in a single database transaction, so the
// sum of all balances is invariant across transfers.
//
// The bot supports various commands:
//
//   - /create_account: Opens an account after a DM verification exchange.
//   - /balance, /passbook: Shows the current balance and recent activity.
//   - /pay: Sends money to another account's transfer address, with an
//     explicit confirm/decline step.
//   - /random_chat: Joins the pairing queue for an anonymous DM chat.
//   - /leaderboard: Shows the richest accounts in the current server.
//
// The package is designed to be configurable and extensible, with
// runtime-adjustable settings persisted to the database and a small
// authenticated HTTP API for administration.
package quantumbank
