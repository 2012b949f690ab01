// Package solar resolves the observer location and the day's
// sunrise/sunset times for solar-anchored automations.
//
// Two collaborator interfaces are exposed: Locator (where are we) and
// TimesProvider (when does the sun rise/set there). Production uses
// IP geolocation via ip-api.com and the sunrise-sunset.org API;
// deployments with known coordinates use FixedLocator and skip
// geolocation entirely.
//
// Lookup failures return ErrLookupFailed. The scheduler keeps the
// previous trigger times and retries at the next day boundary - these
// are free third-party services and must not be hammered.
package solar
