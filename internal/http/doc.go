// Package http provides HTTP handlers and middleware for the trainer
// scheduler API.
//
// The router exposes the following endpoints:
//   - GET /schedules, POST /schedules, GET /schedules/{id}, PUT /schedules/{id},
//     DELETE /schedules/{id}: session management endpoints exchanging the
//     `scheduleDTO` payload defined in schedule_handler.go. Creation of a
//     recurring session returns every generated occurrence.
//   - POST /schedules/{id}/cancel: marks a session cancelled with a reason and
//     actor, cascading to its pending notifications.
//   - POST /schedules/{id}/confirm: records the athlete's confirmation.
//   - POST /schedules/{id}/attendance: upserts a presence mark for an athlete.
//   - GET /schedules/{id}/notifications: lists the dispatch history of one
//     session. POST on the same path recomputes the pending reminder and
//     confirmation-request rows.
//   - POST /conflicts/check: read-only probe reporting whether a proposed slot
//     overlaps an existing non-cancelled session for the trainer.
//   - POST /recurrence/preview: expands a recurrence rule into its occurrence
//     dates without persisting anything.
//   - GET /users, POST /users, GET /users/{id}, PUT /users/{id},
//     DELETE /users/{id}: trainer and athlete directory endpoints exchanging the
//     `userDTO` payload defined in user_handler.go.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
