// Package upload spools multipart file uploads to a local directory.
//
// Each accepted file gets a random name under the store directory and lives
// only for the duration of one request: handlers read it back with
// File.ReadAndRemove. A Policy names the form field, the size limit and the
// accepted media types for a route.
package upload
