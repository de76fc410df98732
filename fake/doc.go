// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-process implementations for testing and development: a reference LwM2M
// registration engine that satisfies api.Engine, the minimal CoAP codec it
// speaks, and a recording monitoring handler.
package fake
