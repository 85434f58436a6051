// Package text normalizes model output for the mobile client.
package text
