// Package treekit bootstraps a treestore.Client from configuration or
// environment variables. In "auto" mode it talks HTTP when a store URL is
// configured and otherwise falls back to an in-memory mock, optionally
// seeded from a JSON or YAML file, that stays API compatible with the HTTP
// client.
package treekit
