// Package auth is the authenticator that sits in front of the credential
// store.
//
// An Authenticator is built for one interaction from the current credentials
// map, cookie policy and pre-authorized list. It never writes the store: each
// operation returns a result whose Apply method the caller runs inside
// credstore.Store.Update.
//
// Operations can be switched off per deployment. Callers ask Supports first
// and treat ErrUnsupported (an *UnsupportedError) as "use the fallback",
// distinct from a domain failure such as ErrInvalidCredentials.
package auth
