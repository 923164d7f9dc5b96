// Package band describes the GATT surface of the fitness band: the closed set of
// characteristic roles the client knows how to drive, the identifier table that
// assigns those roles, and the error kinds shared by the protocol layers.
//
// Classification happens once, at discovery time:
//   - identifiers are normalized and matched exactly against a static table
//   - anything not in the table is Unknown and otherwise inert
//   - a Characteristic's tag never changes after it is created
package band
