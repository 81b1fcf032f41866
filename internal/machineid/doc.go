// Package machineid is a small client for the device registration and
// validation endpoints. Every response, including HTTP errors and non-JSON
// bodies, is normalized into a Result so callers branch on status fields
// rather than on Go errors.
package machineid
