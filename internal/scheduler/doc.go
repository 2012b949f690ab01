// Package scheduler fires time-based automations.
//
// A single loop wakes just after each minute boundary, loads the
// active automations, and executes every one whose "HH:MM" trigger
// (and repeat-day set) matches the current local minute. Failures are
// isolated per automation.
//
// Once per calendar day the loop rewrites the trigger times of
// sunrise/sunset-anchored automations from the day's solar times
// (location via solar.Locator, times via solar.TimesProvider). A
// failed lookup keeps the previous times and is not retried until the
// next day boundary.
package scheduler
