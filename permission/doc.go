// Package permission resolves a user's role and permission codes and keeps
// the derived cache consistent with role mutations.
//
// # Consistency
//
// [Admin] mutations publish on a synchronous [Bus] after the store commits
// and before returning. [Cache.Handle] subscribes and evicts:
//
//   - a user's role change evicts exactly that user's entry;
//   - any change to a role's permissions, and RefreshAll, evicts every entry
//     because the holders of the role are not known without another query.
//
// Mutations that change nothing publish nothing.
package permission
