// FILE: main.go
// This demo walks through responder discovery, the first-run default, a
// handshake and a trigger fan-out, all in memory.

package main

import (
	"context"
	"log"
	"os"

	"github.com/illmade-knight/panic-signal/app"
	"github.com/illmade-knight/panic-signal/pkg/dispatch"
	"github.com/illmade-knight/panic-signal/pkg/protocol"
	"github.com/illmade-knight/panic-signal/pkg/registry"
	"github.com/illmade-knight/panic-signal/pkg/relationships"
	"github.com/rs/zerolog"
)

const (
	triggerID = "org.example.panicbutton"
	wiperID   = "org.example.wiper"
	smsID     = "org.example.sms"
	beaconID  = "org.example.beacon"
)

func main() {
	log.Println("--- Starting Fan-out Demo ---")
	ctx := context.Background()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	// 1. Install a trigger app and two responders
	host := registry.NewInMemoryHost(
		registry.Responder(triggerID, true),
		registry.Responder(wiperID, true, protocol.KindInteractive),
		registry.Responder(smsID, false, protocol.KindBroadcast),
	)

	// Every delivery lands in the receiving app as an attributed interactive
	// call, or an unattributed broadcast/service one.
	apps := map[string]*app.App{}
	deliver := func(from string) dispatch.SenderFunc {
		return func(ctx context.Context, ep protocol.Endpoint, msg *protocol.Message) error {
			target, ok := apps[ep.ID]
			if !ok {
				log.Printf("   %s -> %s (%s) %s", from, ep.ID, ep.Kind, msg.Action)
				return nil
			}
			ic := &protocol.InboundContext{Message: msg, Delivery: ep.Kind, Self: ep.ID}
			if ep.Kind == protocol.KindInteractive {
				ic.Caller = from
			}
			log.Printf("   %s -> %s (%s) %s", from, ep.ID, ep.Kind, msg.Action)
			if _, err := target.CheckInboundConnect(ctx, ic); err != nil {
				return err
			}
			if _, err := target.CheckInboundDisconnect(ctx, ic); err != nil {
				return err
			}
			if app.IsTriggerMessage(msg) {
				trusted, err := target.Handshake.ReceivedTriggerFromConnectedApp(ctx, ic)
				if err != nil {
					return err
				}
				log.Printf("   %s handles trigger, from connected app: %t", ep.ID, trusted)
			}
			return nil
		}
	}
	senders := func(from string) app.Senders {
		return app.Senders{Interactive: deliver(from), Broadcast: deliver(from), Service: deliver(from)}
	}

	trigger := app.New(triggerID, relationships.NewInMemoryStore(), host, senders(triggerID), logger)
	wiper := app.New(wiperID, relationships.NewInMemoryStore(), host, senders(wiperID), logger)
	apps[triggerID] = trigger
	apps[wiperID] = wiper

	// 2. First run enables everything installed
	log.Println("\n--- First Run ---")
	enabled, err := trigger.ListEnabledResponders(ctx)
	if err != nil {
		log.Fatalf("list enabled: %v", err)
	}
	log.Printf("✅ Enabled on first run: %v", enabled)

	// 3. The wiper picks the trigger app as its partner
	log.Println("\n--- Handshake ---")
	if err := wiper.SetConnectionPartner(ctx, triggerID); err != nil {
		log.Fatalf("set partner: %v", err)
	}
	connected, _ := trigger.ListConnectedResponders(ctx)
	log.Printf("✅ Connected responders: %v", connected)

	// 4. A responder installed later stays disabled
	log.Println("\n--- Late Install ---")
	host.Install(registry.Responder(beaconID, false, protocol.KindService))
	enabled, _ = trigger.ListEnabledResponders(ctx)
	log.Printf("✅ Enabled after installing %s: %v", beaconID, enabled)

	// 5. The user disables SMS and enables the beacon
	if err := trigger.SetResponderEnabled(ctx, smsID, false); err != nil {
		log.Fatalf("disable: %v", err)
	}
	if err := trigger.SetResponderEnabled(ctx, beaconID, true); err != nil {
		log.Fatalf("enable: %v", err)
	}
	enabled, _ = trigger.ListEnabledResponders(ctx)
	log.Printf("✅ Enabled after user changes: %v", enabled)

	// 6. Panic
	log.Println("\n--- Trigger ---")
	if err := trigger.SendTrigger(ctx, protocol.NewTriggerMessage(map[string]string{"message": "I need help"})); err != nil {
		log.Fatalf("send trigger: %v", err)
	}

	log.Println("\n--- Demo Complete ---")
}
