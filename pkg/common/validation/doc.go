// Package validation provides common validation utilities for configuration
// parameters across the crawlqos library.
//
// Bucket, estimator and gate constructors call these so that every rejected
// setting surfaces as an errors.ValidationError with the offending field.
package validation
