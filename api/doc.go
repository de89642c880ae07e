/*
Package api groups the HTTP API consumers of the nodelist server.

The server itself lives in package httpserver. Subpackage clients provides typed
Go clients for the public chain data API and the signed admin API.
*/
package api
