// Package server implements the WebSocket data server for receiving audio
// frames and the HTTP API endpoints. It handles connection lifecycle, routing
// frames to sessions, and provides monitoring/management endpoints.
package server
