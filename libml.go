// Package libml trains and runs a byte-level LSTM classifier that flags
// malicious web request query strings.
//
// The stages live in their own packages: querystring (decoding and
// fixed-width encoding), dataset, model, trainer, export (saved model and
// quantized artifact) and inference.
package libml

// Version is the library version reported by the commands.
const Version = "1.0.0"
